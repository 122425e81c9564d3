package lease

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/scheduler"
)

const (
	DefaultLeaseInterval  = 5 * time.Minute
	DefaultLeaseTolerance = 30 * time.Second

	// DefaultRenewalInterval is used when AutomaticLeaseRenewal is set
	// without an explicit interval.
	DefaultRenewalInterval = 150 * time.Second
)

// Identity names whoever is leasing a message. The value is stored in the
// leasedby column.
type Identity interface {
	CurrentIdentity() string
}

// HostIdentity identifies the lease holder by host name.
type HostIdentity struct{}

func (HostIdentity) CurrentIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// StaticIdentity is a fixed lease holder name.
type StaticIdentity string

func (s StaticIdentity) CurrentIdentity() string { return string(s) }

// Scheduler runs the automatic lease renewals. *scheduler.Scheduler
// satisfies it.
type Scheduler interface {
	Schedule(action scheduler.Action, initialDelay, period time.Duration) scheduler.Task
}

// Options configures a Transport. Zero fields take the defaults.
type Options struct {
	LeaseInterval  time.Duration
	LeaseTolerance time.Duration
	// AutomaticLeaseRenewal enables renewal at DefaultRenewalInterval
	// unless AutomaticLeaseRenewalInterval is set.
	AutomaticLeaseRenewal bool
	// AutomaticLeaseRenewalInterval enables renewal when positive. It must
	// be shorter than LeaseInterval.
	AutomaticLeaseRenewalInterval time.Duration

	Identity  Identity
	Clock     clock.Clock
	Scheduler Scheduler
	Logger    logrus.FieldLogger
}

func (o *Options) setDefaults() {
	if o.LeaseInterval == 0 {
		o.LeaseInterval = DefaultLeaseInterval
	}
	if o.AutomaticLeaseRenewal && o.AutomaticLeaseRenewalInterval == 0 {
		o.AutomaticLeaseRenewalInterval = DefaultRenewalInterval
	}
	if o.LeaseTolerance == 0 {
		o.LeaseTolerance = DefaultLeaseTolerance
	}
	if o.Identity == nil {
		o.Identity = HostIdentity{}
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

func (o Options) validate() error {
	if o.LeaseInterval <= 0 {
		return errors.New("lease interval must be positive")
	}
	if o.LeaseTolerance < 0 {
		return errors.New("lease tolerance must not be negative")
	}
	if o.AutomaticLeaseRenewalInterval < 0 {
		return errors.New("lease renewal interval must not be negative")
	}
	if o.AutomaticLeaseRenewalInterval >= o.LeaseInterval {
		return fmt.Errorf("lease renewal interval %s must be shorter than lease interval %s",
			o.AutomaticLeaseRenewalInterval, o.LeaseInterval)
	}
	return nil
}
