package handler

import (
	"errors"
	"strconv"

	"thriftledger/internal/service"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/logger"
	"thriftledger/pkg/money"
	"thriftledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// SignatureHeader 网关回调签名所在的请求头
const SignatureHeader = "X-Gateway-Signature"

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledger       *service.LedgerService
	defaults     *service.DefaultService
	settlement   *service.SettlementService
	contribution *service.ContributionService
	enrollment   *service.EnrollmentService
	funding      *service.FundingService
	today        func() string
}

// NewHandler 创建处理器实例
func NewHandler(svcs *service.Services, today func() string) *Handler {
	return &Handler{
		ledger:       svcs.Ledger,
		defaults:     svcs.Defaults,
		settlement:   svcs.Settlement,
		contribution: svcs.Contribution,
		enrollment:   svcs.Enrollment,
		funding:      svcs.Funding,
		today:        today,
	}
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

// handleError 业务错误映射为统一的错误码
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrDuplicateReference):
		response.BusinessError(c, response.CodeDuplicateReference, err.Error())
	case errors.Is(err, service.ErrAlreadySettled):
		response.BusinessError(c, response.CodeAlreadySettled, err.Error())
	case errors.Is(err, service.ErrEnrollmentNotActive):
		response.BusinessError(c, response.CodeEnrollmentNotActive, err.Error())
	case errors.Is(err, service.ErrWalletNotFound):
		response.BusinessError(c, response.CodeWalletNotFound, err.Error())
	case errors.Is(err, service.ErrEnrollmentNotFound):
		response.BusinessError(c, response.CodeEnrollmentNotFound, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrDefaultNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidStatusTransition):
		response.BusinessError(c, response.CodeStatusTransitionDeny, err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidReference),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, service.ErrInvalidEnrollment),
		errors.Is(err, service.ErrAmountMismatch):
		response.ParamError(c, err.Error())
	default:
		logger.Errorf("[HTTP] %s %s 处理失败: %v", c.Request.Method, c.Request.URL.Path, err)
		response.ServerError(c, "服务器内部错误")
	}
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询钱包余额
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       wallet.UserID,
		"balance":       wallet.Balance,
		"balance_major": money.FormatMajor(wallet.Balance),
	})
}

// ListTransactions 钱包流水
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.ledger.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// TopUpRequest 手工充值请求，金额单位为 kobo
type TopUpRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Reference   string `json:"reference" binding:"required"`
	Description string `json:"description"`
}

// TopUp 手工充值
// POST /api/v1/wallet/topup
func (h *Handler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.funding.ManualTopUp(c.Request.Context(), req.UserID, req.Amount, req.Reference, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 资金回调接口
// ============================================================

// readSigned 读取原始请求体并校验签名，校验通过后再解析
func (h *Handler) readSigned(c *gin.Context, obj interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败")
		return false
	}
	if err := h.funding.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
		logger.Warnf("[HTTP] 回调签名校验失败: path=%s, ip=%s", c.Request.URL.Path, c.ClientIP())
		handleError(c, err)
		return false
	}
	if err := binding.JSON.BindBody(body, obj); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// BankTransferWebhook 银行转账到账通知
// POST /api/v1/funding/bank-transfer/webhook
//
// 网关可能重复推送同一笔到账，reference 相同时只入账一次并返回同一笔流水
func (h *Handler) BankTransferWebhook(c *gin.Context) {
	var evt service.BankTransferEvent
	if !h.readSigned(c, &evt) {
		return
	}

	trans, err := h.funding.HandleBankTransfer(c.Request.Context(), evt)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, trans)
}

// InitiateCardRequest 发起银行卡充值，金额单位为 kobo
type InitiateCardRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// InitiateCardPayment 发起银行卡充值
// POST /api/v1/funding/card/initiate
func (h *Handler) InitiateCardPayment(c *gin.Context) {
	var req InitiateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.funding.InitiateCardPayment(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"reference":      trans.Reference,
		"transaction_no": trans.TransactionNo,
		"amount":         trans.Amount,
		"status":         trans.Status,
	})
}

// CardCallback 银行卡支付结果回调
// POST /api/v1/funding/card/callback
func (h *Handler) CardCallback(c *gin.Context) {
	var cb service.CardCallback
	if !h.readSigned(c, &cb) {
		return
	}

	trans, err := h.funding.HandleCardCallback(c.Request.Context(), cb)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 日供计划接口
// ============================================================

// Enroll 开通日供计划
// POST /api/v1/thrift/enroll
func (h *Handler) Enroll(c *gin.Context) {
	var req service.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	enrollment, err := h.enrollment.Create(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, enrollment)
}

// GetEnrollment GET /api/v1/thrift/enrollment?enrollment_id=xxx
func (h *Handler) GetEnrollment(c *gin.Context) {
	enrollmentID, ok := queryInt64(c, "enrollment_id")
	if !ok {
		return
	}

	enrollment, err := h.enrollment.Get(c.Request.Context(), enrollmentID)
	if err != nil {
		handleError(c, err)
		return
	}

	defaults, err := h.defaults.ListForEnrollment(c.Request.Context(), enrollmentID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"enrollment": enrollment,
		"defaults":   defaults,
	})
}

// ListEnrollments GET /api/v1/thrift/enrollments?user_id=xxx
func (h *Handler) ListEnrollments(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	list, err := h.enrollment.ListByUser(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"list": list})
}

// CancelEnrollment 取消日供计划
// POST /api/v1/thrift/cancel
func (h *Handler) CancelEnrollment(c *gin.Context) {
	var req struct {
		EnrollmentID int64 `json:"enrollment_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	enrollment, err := h.enrollment.Cancel(c.Request.Context(), req.EnrollmentID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, enrollment)
}

// ListDefaults 待结清违约及汇总
// GET /api/v1/thrift/defaults?user_id=xxx
func (h *Handler) ListDefaults(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	records, summary, err := h.defaults.PendingFor(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":    records,
		"summary": summary,
	})
}

// ============================================================
// 管理接口
// ============================================================

// Reconcile 手工触发结清
// POST /api/v1/admin/settlement/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.settlement.Reconcile(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// RunContributions 手工执行某天的日供扣款，date 为空时取业务时区当天
// POST /api/v1/admin/contribution/run
func (h *Handler) RunContributions(c *gin.Context) {
	var req struct {
		Date string `json:"date"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}
	if req.Date == "" {
		req.Date = h.today()
	}
	if err := dateutil.Validate(req.Date); err != nil {
		handleError(c, err)
		return
	}

	result, err := h.contribution.ProcessDate(c.Request.Context(), req.Date)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// VerifyWallet 核对钱包余额与流水
// GET /api/v1/admin/wallet/verify?user_id=xxx
func (h *Handler) VerifyWallet(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	check, err := h.ledger.VerifyBalance(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, check)
}
