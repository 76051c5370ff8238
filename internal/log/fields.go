package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldStage     = "stage"
	FieldTenantID  = "tenant_id"
	FieldCategory  = "category_id"
	FieldTier      = "tier"
	FieldPeriod    = "period"
	FieldOffset    = "utc_offset"
	FieldCount     = "count"
	FieldAttempt   = "attempt"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldOperation = "operation"
	FieldChatID    = "chat_id"
	FieldKind      = "kind"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentResolver = "resolver"
	ComponentDaily    = "daily"
	ComponentRollup   = "rollup"
	ComponentPipeline = "pipeline"
	ComponentNotifier = "notifier"
	ComponentDelivery = "delivery"
	ComponentLedger   = "ledger"
	ComponentLock     = "lock"
	ComponentMetrics  = "metrics"
)

// Operations defines standard operation names
const (
	OpAggregate = "aggregate"
	OpRollup    = "rollup"
	OpResolve   = "resolve"
	OpNotify    = "notify"
	OpDeliver   = "deliver"
	OpMigrate   = "migrate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTenant adds tenant-related fields
func (f LogFields) WithTenant(id int64, offsetMinutes int) LogFields {
	f[FieldTenantID] = id
	f[FieldOffset] = offsetMinutes
	return f
}

// WithRollup adds tier and period fields
func (f LogFields) WithRollup(tier, period string) LogFields {
	f[FieldTier] = tier
	f[FieldPeriod] = period
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
