package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/metrics"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

const (
	OutcomeContributed = "CONTRIBUTED"
	OutcomeDefaulted   = "DEFAULTED"
	OutcomeSkipped     = "SKIPPED"
)

// EnrollmentFailure 单个计划处理失败，不影响同批其他计划
type EnrollmentFailure struct {
	EnrollmentID int64  `json:"enrollment_id"`
	EnrollmentNo string `json:"enrollment_no"`
	Error        string `json:"error"`
	// Fatal 为 true 表示调度逻辑本身有问题（例如选中了非进行中的计划），需要告警
	Fatal bool `json:"fatal"`
}

// DailyRunResult 一次日供批处理的汇总
type DailyRunResult struct {
	RunNo       string              `json:"run_no"`
	Date        string              `json:"date"`
	Selected    int                 `json:"selected"`
	Contributed int                 `json:"contributed"`
	Defaulted   int                 `json:"defaulted"`
	Completed   int                 `json:"completed"`
	Matured     int                 `json:"matured"`
	Skipped     int                 `json:"skipped"`
	Failures    []EnrollmentFailure `json:"failures"`
}

// EnrollmentOutcome 单个计划单日处理结果
type EnrollmentOutcome struct {
	EnrollmentID     int64  `json:"enrollment_id"`
	EnrollmentNo     string `json:"enrollment_no"`
	ContributionDate string `json:"contribution_date"`
	Result           string `json:"result"`
	TransactionNo    string `json:"transaction_no,omitempty"`
	DefaultNo        string `json:"default_no,omitempty"`
	Status           string `json:"status"`
}

// ContributionService 日供扣款
//
// 【关键点】
// 1. 每个计划单独一个事务：锁计划行 -> 扣款（或记违约） -> 推进日期 -> 写发件箱，失败互不影响
// 2. 每次只处理计划的 next_contribution_date 这一天，处理后日期恰好前进一天
// 3. 处理时记下批处理日期 last_processed_date，同一批处理日期重复执行直接跳过，
//    落后的计划也只会每个自然日追一天
type ContributionService struct {
	db             *gorm.DB
	cfg            *config.Config
	ledger         *LedgerService
	defaults       *DefaultService
	enrollmentRepo *repository.EnrollmentRepository
	events         *eventWriter
}

func NewContributionService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, defaults *DefaultService) *ContributionService {
	return &ContributionService{
		db:             db,
		cfg:            cfg,
		ledger:         ledger,
		defaults:       defaults,
		enrollmentRepo: repository.NewEnrollmentRepository(db),
		events:         newEventWriter(db),
	}
}

// ProcessDate 处理截至 date 应扣款的全部进行中计划
func (s *ContributionService) ProcessDate(ctx context.Context, date string) (*DailyRunResult, error) {
	if err := dateutil.Validate(date); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &DailyRunResult{
		RunNo:    idgen.GenerateRunNo(),
		Date:     date,
		Failures: []EnrollmentFailure{},
	}
	logger.Infof("[DailyContribution] 开始日供扣款: run=%s, date=%s", result.RunNo, date)

	batchSize := s.cfg.Business.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		enrollments, err := s.enrollmentRepo.ListDue(ctx, date, afterID, batchSize)
		if err != nil {
			metrics.DailyRunFailures.Inc()
			return result, fmt.Errorf("查询待扣款计划失败: %w", err)
		}
		if len(enrollments) == 0 {
			break
		}

		for _, e := range enrollments {
			afterID = e.ID
			result.Selected++

			outcome, err := s.ProcessEnrollment(ctx, e.ID, date)
			if err != nil {
				failure := EnrollmentFailure{
					EnrollmentID: e.ID,
					EnrollmentNo: e.EnrollmentNo,
					Error:        err.Error(),
					Fatal:        errors.Is(err, ErrEnrollmentNotActive),
				}
				if failure.Fatal {
					logger.Errorf("[DailyContribution] 调度异常，选中了非进行中的计划: enrollment=%s", e.EnrollmentNo)
				} else {
					logger.Errorf("[DailyContribution] 计划处理失败: enrollment=%s, err=%v", e.EnrollmentNo, err)
				}
				metrics.DailyRunFailures.Inc()
				result.Failures = append(result.Failures, failure)
				continue
			}

			switch outcome.Result {
			case OutcomeContributed:
				result.Contributed++
			case OutcomeDefaulted:
				result.Defaulted++
			case OutcomeSkipped:
				result.Skipped++
			}
			switch outcome.Status {
			case model.EnrollmentStatusCompleted:
				result.Completed++
			case model.EnrollmentStatusMatured:
				result.Matured++
			}
		}
	}

	metrics.DailyRunDuration.Observe(time.Since(start).Seconds())
	logger.Infof("[DailyContribution] 日供扣款完成: run=%s, date=%s, selected=%d, contributed=%d, defaulted=%d, skipped=%d, failures=%d",
		result.RunNo, date, result.Selected, result.Contributed, result.Defaulted, result.Skipped, len(result.Failures))
	return result, nil
}

// ProcessEnrollment 处理单个计划的一个扣款日
func (s *ContributionService) ProcessEnrollment(ctx context.Context, enrollmentID int64, date string) (*EnrollmentOutcome, error) {
	var (
		outcome  *EnrollmentOutcome
		entry    *LedgerEntry
		debitErr error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.enrollmentRepo.GetByIDForUpdate(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		if e.Status != model.EnrollmentStatusActive {
			return fmt.Errorf("%w: enrollment=%s, status=%s", ErrEnrollmentNotActive, e.EnrollmentNo, e.Status)
		}

		outcome = &EnrollmentOutcome{
			EnrollmentID:     e.ID,
			EnrollmentNo:     e.EnrollmentNo,
			ContributionDate: e.NextContributionDate,
			Status:           e.Status,
		}

		// 已被其他实例或本日更早的执行处理过
		if e.NextContributionDate > date || e.LastProcessedDate >= date {
			outcome.Result = OutcomeSkipped
			return nil
		}

		day := e.NextContributionDate
		entry = &LedgerEntry{
			UserID:      e.UserID,
			Amount:      e.DailyAmount,
			Reference:   e.ContributionReference(day),
			Category:    model.CategoryContribution,
			Description: fmt.Sprintf("%s 日供 %s", e.PlanCode, day),
		}
		trans, err := s.ledger.DebitTx(ctx, tx, *entry)
		debitErr = err
		switch {
		case err == nil:
			e.TotalContributed += e.DailyAmount
			e.CurrentBalance += e.DailyAmount
			e.DaysContributed++
			outcome.Result = OutcomeContributed
			outcome.TransactionNo = trans.TransactionNo
			if e.TotalContributed >= e.TotalContributionTarget {
				e.Status = model.EnrollmentStatusCompleted
			}
		case errors.Is(err, ErrInsufficientFunds):
			record, err := s.defaults.RecordDefault(ctx, tx, e, e.DailyAmount, day)
			if err != nil {
				return err
			}
			e.DaysDefaulted++
			outcome.Result = OutcomeDefaulted
			outcome.DefaultNo = record.DefaultNo
		default:
			return err
		}

		next, err := dateutil.AddDays(day, 1)
		if err != nil {
			return err
		}
		e.NextContributionDate = next
		e.LastProcessedDate = date
		if e.Status == model.EnrollmentStatusActive && e.MaturityDate != "" && next > e.MaturityDate {
			e.Status = model.EnrollmentStatusMatured
		}

		if err := s.enrollmentRepo.SaveProgress(ctx, tx, e, day); err != nil {
			return fmt.Errorf("保存计划进度失败: %w", err)
		}
		outcome.Status = e.Status

		if outcome.Result == OutcomeContributed {
			if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.ThriftEvent, model.EventContributionPaid, e.EnrollmentNo, e.UserID, map[string]interface{}{
				"contribution_date": day,
				"amount":            e.DailyAmount,
				"transaction_no":    trans.TransactionNo,
				"total_contributed": e.TotalContributed,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}
		}

		if e.Status != model.EnrollmentStatusActive {
			if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.ThriftEvent, model.EventEnrollmentFinished, e.EnrollmentNo, e.UserID, map[string]interface{}{
				"status":            e.Status,
				"total_contributed": e.TotalContributed,
				"days_contributed":  e.DaysContributed,
				"days_defaulted":    e.DaysDefaulted,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}
			logger.Infof("[DailyContribution] 计划结束: enrollment=%s, status=%s", e.EnrollmentNo, e.Status)
		}
		return nil
	})
	if entry != nil {
		if err != nil {
			s.ledger.ObserveDebit(*entry, err)
		} else {
			s.ledger.ObserveDebit(*entry, debitErr)
		}
	}
	if err != nil {
		return nil, err
	}
	if outcome.Result == OutcomeContributed {
		metrics.ContributionsPaid.Inc()
	}
	return outcome, nil
}
