package pipeline

import (
	"github.com/sirupsen/logrus"
)

// runNonCritical executes a best-effort side effect, logging and
// swallowing both errors and panics. Keeping this separate from the
// critical path lets tests assert that critical failures always propagate
// and non-critical ones never do.
func runNonCritical(log *logrus.Entry, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("task", name).Errorf("non-critical task panicked: %v", r)
		}
	}()

	if err := fn(); err != nil {
		log.WithError(err).WithField("task", name).Error("non-critical task failed")
	}
}
