package coordinator

import (
	"errors"
	"fmt"

	"github.com/oshokin/symdeploy/internal/domain/release"
)

// Step names one transition of an activation.
type Step int

const (
	// StepNone means nothing has completed yet.
	StepNone Step = iota
	// StepGuard checks that the revision directory does not exist yet.
	StepGuard
	// StepUnpack uploads the archive and unzips it into the revision directory.
	StepUnpack
	// StepDetach stops the service and moves current to prev.
	StepDetach
	// StepLink points current at the new revision.
	StepLink
	// StepInstall registers the init script on first deploy.
	StepInstall
	// StepStart starts the service.
	StepStart
	// StepProbe lists the service processes.
	StepProbe
	// StepPrune removes expired revision directories.
	StepPrune
)

//nolint:gochecknoglobals // Lookup table.
var stepNames = map[Step]string{
	StepNone:    "none",
	StepGuard:   "guard",
	StepUnpack:  "unpack",
	StepDetach:  "detach",
	StepLink:    "link",
	StepInstall: "install",
	StepStart:   "start",
	StepProbe:   "probe",
	StepPrune:   "prune",
}

// String returns the step name.
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}

	return fmt.Sprintf("step(%d)", int(s))
}

// Mutating reports whether a failure in s leaves the symlinks half swapped.
func (s Step) Mutating() bool {
	return s >= StepDetach && s <= StepStart
}

var (
	// ErrRevisionExists is returned when the revision directory is already on the host.
	ErrRevisionExists = errors.New("revision is already deployed")
	// ErrPartialActivation is returned when a step failed after the symlinks were touched.
	ErrPartialActivation = errors.New("activation stopped half way")
	// ErrNothingToRollBack is returned when current or prev is missing.
	ErrNothingToRollBack = errors.New("rollback needs both current and prev")
)

// Report records how far an activation got.
type Report struct {
	// Revision is the revision being activated.
	Revision release.Revision
	// LastStep is the last step that completed.
	LastStep Step
	// Before is the symlink state found before the activation started.
	Before release.State
	// InstalledInitScript is set when the init script was registered.
	InstalledInitScript bool
	// Processes is the output of the process probe.
	Processes string
	// Pruned lists the revision directories removed after activation.
	Pruned []string
}

func (r *Report) complete(s Step) {
	r.LastStep = s
}
