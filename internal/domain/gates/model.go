package gates

import "time"

// WorkingHours define la ventana horaria operativa del portón.
type WorkingHours struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
	Days  []int  `json:"days"`  // 0-6 (domingo-sábado)
}

// Policy es la configuración por portón/molinete.
type Policy struct {
	Gate     string
	Name     string
	Location string

	IsActive        bool
	MaintenanceMode bool

	AllowedGates []string
	WorkingHours *WorkingHours

	// Tunables de validación/sincronización.
	ValidationTimeout time.Duration
	MaxRetryAttempts  int
	RetryInterval     time.Duration
	DataRetentionDays int

	LastSyncAt    *time.Time
	TotalAccesses int64
	FailedSyncs   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Defaults de tunables para políticas nuevas.
const (
	DefaultValidationTimeout = 5 * time.Second
	DefaultMaxRetryAttempts  = 5
	DefaultRetryInterval     = time.Minute
	DefaultRetentionDays     = 30
)
