package service

import (
	"thriftledger/internal/config"

	"gorm.io/gorm"
)

// Services 服务集合，入账监听在这里接好
type Services struct {
	Ledger       *LedgerService
	Defaults     *DefaultService
	Settlement   *SettlementService
	Contribution *ContributionService
	Enrollment   *EnrollmentService
	Funding      *FundingService
}

func NewServices(db *gorm.DB, cfg *config.Config) *Services {
	ledger := NewLedgerService(db, cfg)
	defaults := NewDefaultService(db, cfg)
	settlement := NewSettlementService(db, cfg, ledger, defaults)
	ledger.RegisterCreditListener(settlement)

	return &Services{
		Ledger:       ledger,
		Defaults:     defaults,
		Settlement:   settlement,
		Contribution: NewContributionService(db, cfg, ledger, defaults),
		Enrollment:   NewEnrollmentService(db, cfg),
		Funding:      NewFundingService(cfg, ledger),
	}
}
