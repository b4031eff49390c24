package status

// Status is the provider-independent state of a payment transaction.
type Status string

const (
	Pending   Status = "pending"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Refunded  Status = "refunded"
)

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case Pending, Succeeded, Failed, Refunded:
		return true
	default:
		return false
	}
}

var providerStatuses = map[string]Status{
	"success":    Succeeded,
	"processing": Pending,
	"hold":       Pending,
	"created":    Pending,
	"expired":    Failed,
	"failure":    Failed,
	"error":      Failed,
	"reversed":   Refunded,
	"reversal":   Refunded,
}

// Map translates a provider status token into a Status.
// Unrecognized tokens map to Pending so an unknown code can never settle or
// fail a payment on its own.
func Map(providerStatus string) Status {
	if s, ok := providerStatuses[providerStatus]; ok {
		return s
	}
	return Pending
}
