package audithook

// Action constants for audit events.
const (
	// Transaction actions
	ActionTransactionPaid     = "transaction.paid"
	ActionTransactionRefunded = "transaction.refunded"
	ActionTransactionOverdue  = "transaction.overdue"
	ActionPaymentFailed       = "payment.failed"

	// Package actions
	ActionPackagePurchased = "package.purchased"
	ActionSessionConsumed  = "package.session_consumed"
	ActionPackageExpired   = "package.expired"
	ActionPackageCancelled = "package.cancelled"

	// Invoice actions
	ActionInvoiceIssued  = "invoice.issued"
	ActionInvoicePaid    = "invoice.paid"
	ActionInvoiceOverdue = "invoice.overdue"

	// Payment plan actions
	ActionPlanCreated        = "plan.created"
	ActionInstallmentOverdue = "plan.installment_overdue"
	ActionPlanCompleted      = "plan.completed"
	ActionPlanDefaulted      = "plan.defaulted"

	// Scheduler actions
	ActionSweepCompleted = "sweep.completed"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourcePackage     = "package"
	ResourceInvoice     = "invoice"
	ResourcePlan        = "payment_plan"
	ResourceSweep       = "sweep"
)

// Category constants for audit events.
const (
	CategoryPayment    = "payment"
	CategoryPackage    = "package"
	CategoryBilling    = "billing"
	CategoryCollection = "collection"
	CategoryScheduler  = "scheduler"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
