package upload

import (
	"github.com/apex/log"
	"github.com/modvault/modvault/pkg/clog"
)

// Reconciler is told about mods whose database state was committed but whose staged file
// operations could not all be applied. Storage and database disagree for such a mod until an
// operator (or an implementation of this interface) fixes it.
type Reconciler interface {
	Reconcile(modID int, applyErr error)
}

// LogReconciler only records the mismatch.
type LogReconciler struct {
	log log.Interface
}

func NewLogReconciler(logger log.Interface) *LogReconciler {
	return &LogReconciler{log: clog.For(logger, "reconciler")}
}

func (r *LogReconciler) Reconcile(modID int, applyErr error) {
	r.log.WithError(applyErr).WithField("mod_id", modID).
		Error("Mod files in storage don't match the database and need manual reconciliation")
}
