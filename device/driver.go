package device

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver.
	DriverInit(ctx context.Context) error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the driver probing code.
type DetectOrder int8

const (
	// DetectOrderEarly specifies that the driver's probe function should
	// be executed at the beginning of the probing phase.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforeACPI specifies that the driver's probe function
	// should be executed before attempting any ACPI-based probing.
	DetectOrderBeforeACPI = -127

	// DetectOrderACPI specifies that the driver's probe function should
	// be executed after the ACPI engine has been initialized.
	DetectOrderACPI = 0

	// DetectOrderLast specifies that the driver's probe function should
	// be executed at the end of the probing phase.
	DetectOrderLast = 127
)

// DriverInfo is a driver-defined struct that is passed to calls to
// RegisterDriver.
type DriverInfo struct {
	// Order specifies at which stage of the probing phase the driver's
	// probe function will be invoked.
	Order DetectOrder

	// Probe is the probe function for this driver.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var (
	// registeredDrivers tracks the drivers registered via RegisterDriver.
	registeredDrivers DriverInfoList
)

// RegisterDriver adds the supplied driver info to the list of registered
// drivers.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}

// ProbeAll runs the probe function of every registered driver in detection
// order and initializes the drivers that report their hardware as present.
// Drivers that fail to initialize are logged and skipped. It returns the
// drivers that were initialized successfully.
func ProbeAll(ctx context.Context, logger *zap.Logger) []Driver {
	if logger == nil {
		logger = zap.NewNop()
	}

	drivers := append(DriverInfoList(nil), DriverList()...)
	sort.Stable(drivers)

	var active []Driver
	for _, info := range drivers {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		log := logger.With(
			zap.String("driver", drv.DriverName()),
			zap.Uint16s("version", []uint16{major, minor, patch}),
		)

		if err := drv.DriverInit(ctx); err != nil {
			log.Error("driver init failed", zap.Error(err))
			continue
		}

		log.Info("driver initialized")
		active = append(active, drv)
	}
	return active
}
