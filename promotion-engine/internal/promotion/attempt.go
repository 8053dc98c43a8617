package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/destination"
	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// attempt carries the state of one claimed promotion.
type attempt struct {
	*Executor
	out     Outcome
	written []string
}

// failure describes how an attempt ends when it cannot complete.
type failure struct {
	stage            State
	err              error
	prospectStatus   models.ProspectStatus
	validationErrors []string
	logStatus        models.PromotionStatus
	process          errorlog.Process
	severity         models.Severity
}

func (a *attempt) execute(ctx context.Context) (Outcome, error) {
	if clientID, f := a.existingClient(ctx); f != nil {
		return a.fail(ctx, *f)
	} else if clientID != "" {
		return a.adopt(ctx, clientID)
	}

	a.out.State = StateValidating
	start := time.Now()
	assessment, err := a.gatekeeper.Assess(ctx, a.out.ProspectID)
	a.metrics.stage(StateValidating, start)
	if err != nil {
		a.release(ctx)
		return a.halt(ctx, fmt.Errorf("readiness %s: %w", a.out.ProspectID, err))
	}
	verdict := assessment.Verdict
	a.out.Verdict = &verdict
	a.out.Warnings = append(a.out.Warnings, verdict.Warnings...)
	if !verdict.CanPromote {
		return a.fail(ctx, failure{
			stage:            StateValidating,
			err:              fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(verdict.Errors, "; ")),
			prospectStatus:   models.ProspectStatusValidationFailed,
			validationErrors: verdict.Errors,
			logStatus:        models.PromotionStatusFailed,
			process:          errorlog.ProcessReadiness,
			severity:         models.SeverityMedium,
		})
	}

	a.out.State = StateTransforming
	start = time.Now()
	payload, err := a.transformer.Transform(a.out.ProspectID, assessment.Sources, a.bpHash)
	a.metrics.stage(StateTransforming, start)
	if err != nil {
		if !errors.Is(err, ErrTransformation) {
			err = fmt.Errorf("%w: %v", ErrTransformation, err)
		}
		return a.fail(ctx, failure{
			stage:            StateTransforming,
			err:              err,
			prospectStatus:   models.ProspectStatusValidationFailed,
			validationErrors: []string{err.Error()},
			logStatus:        models.PromotionStatusFailed,
			process:          errorlog.ProcessTransformation,
			severity:         models.SeverityHigh,
		})
	}

	a.out.State = StateWriting
	start = time.Now()
	f := a.write(ctx, payload)
	a.metrics.stage(StateWriting, start)
	if f != nil {
		return a.fail(ctx, *f)
	}
	return a.markCompleted(ctx, true, &payload)
}

// existingClient asks the destination whether a client row already exists for
// the prospect. That row is authoritative over the prospect record.
func (a *attempt) existingClient(ctx context.Context) (string, *failure) {
	res, err := a.dest.Query(ctx, "SELECT client_id FROM clients WHERE prospect_id = $1", a.out.ProspectID)
	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case !res.Success:
		msg = res.Message
	default:
		for _, row := range res.Rows {
			if id, _ := row["client_id"].(string); id != "" {
				return id, nil
			}
		}
		return "", nil
	}
	severity := models.SeverityHigh
	if err != nil {
		severity = models.SeverityCritical
	}
	return "", &failure{
		stage:          StateWriting,
		err:            fmt.Errorf("%w: recovery check: %s", ErrInsertFailed, msg),
		prospectStatus: models.ProspectStatusInsertFailed,
		logStatus:      models.PromotionStatusFailed,
		process:        errorlog.ProcessDestination,
		severity:       severity,
	}
}

// adopt finalizes a prospect whose client row was written by an earlier
// attempt that never flipped the prospect status.
func (a *attempt) adopt(ctx context.Context, clientID string) (Outcome, error) {
	a.logger.Printf("promotion %s: adopting existing client %s for %s", a.out.PromotionID, clientID, a.out.ProspectID)
	a.out.ClientID = clientID
	a.out.Recovered = true
	a.out.Warnings = append(a.out.Warnings, fmt.Sprintf("clients: adopted existing client %s", clientID))
	a.out.InsertedCounts[destination.TableClients] = 1
	a.repairChildren(ctx)

	fctx, cancel := a.finalizeContext(ctx)
	defer cancel()
	done, err := a.audit.HasCompleted(fctx, a.out.ProspectID)
	if err != nil {
		a.report(ctx, errorlog.Report{
			ProspectID: a.out.ProspectID,
			ClientID:   clientID,
			Process:    errorlog.ProcessFinalize,
			Message:    fmt.Sprintf("check completed log entry: %v", err),
			Severity:   models.SeverityMedium,
		})
		// An unknown answer must not risk a second completed entry.
		done = true
	}
	if done {
		a.debugf("promotion %s: completed entry exists for %s", a.out.PromotionID, a.out.ProspectID)
	}
	return a.markCompleted(ctx, !done, nil)
}

// repairChildren counts the child rows stored under an adopted client and
// writes the tables an interrupted attempt left empty. Anything it cannot
// verify or repair becomes a child warning.
func (a *attempt) repairChildren(ctx context.Context) {
	var missing []string
	for _, table := range destination.ChildTables {
		n, err := a.countRows(ctx, table)
		if err != nil {
			a.childWarning(ctx, table, fmt.Sprintf("cannot verify rows of adopted client: %v", err))
			continue
		}
		a.out.InsertedCounts[table] = n
		if n == 0 {
			missing = append(missing, table)
		}
	}
	if len(missing) == 0 {
		return
	}

	payload, reason := a.rebuild(ctx)
	for _, table := range missing {
		if reason != "" {
			a.childWarning(ctx, table, "no rows for adopted client; "+reason)
			continue
		}
		n, msg := a.writeChild(ctx, table, payload)
		a.out.InsertedCounts[table] = n
		if msg != "" {
			a.childWarning(ctx, table, "repair of adopted client failed: "+msg)
			continue
		}
		a.logger.Printf("promotion %s: repaired %s for client %s (%d rows)", a.out.PromotionID, table, a.out.ClientID, n)
	}
}

func (a *attempt) countRows(ctx context.Context, table string) (int, error) {
	res, err := a.dest.Query(ctx, fmt.Sprintf("SELECT client_id FROM %s WHERE client_id = $1", table), a.out.ClientID)
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, errors.New(res.Message)
	}
	return len(res.Rows), nil
}

// rebuild derives the payload again from the current source documents. A
// non-empty reason says why it could not.
func (a *attempt) rebuild(ctx context.Context) (models.DestinationPayload, string) {
	assessment, err := a.gatekeeper.Assess(ctx, a.out.ProspectID)
	if err != nil {
		return models.DestinationPayload{}, fmt.Sprintf("source documents unavailable: %v", err)
	}
	if !assessment.Verdict.CanPromote {
		return models.DestinationPayload{}, "source documents no longer validate: " + strings.Join(assessment.Verdict.Errors, "; ")
	}
	p, err := a.transformer.Transform(a.out.ProspectID, assessment.Sources, a.bpHash)
	if err != nil {
		return models.DestinationPayload{}, fmt.Sprintf("rebuild payload: %v", err)
	}
	return p, ""
}

// write performs the client insert followed by the child tables in order.
func (a *attempt) write(ctx context.Context, p models.DestinationPayload) *failure {
	clientRec, err := destination.RecordOf(p.Client)
	if err != nil {
		return a.insertFailure(fmt.Sprintf("clients: %v", err), models.SeverityHigh)
	}
	res, err := a.dest.InsertOne(ctx, destination.TableClients, clientRec)
	if err != nil {
		return a.insertFailure(fmt.Sprintf("clients: %v", err), models.SeverityCritical)
	}
	if !res.Success {
		return a.insertFailure(fmt.Sprintf("clients: %s", res.Message), models.SeverityHigh)
	}
	a.out.ClientID = p.Client.ClientID
	if res.GeneratedID != "" {
		a.out.ClientID = res.GeneratedID
	}
	a.out.InsertedCounts[destination.TableClients] = 1
	a.written = append(a.written, destination.TableClients)

	for _, table := range destination.ChildTables {
		n, msg := a.writeChild(ctx, table, p)
		if msg == "" {
			a.out.InsertedCounts[table] = n
			if n > 0 {
				a.written = append(a.written, table)
			}
			continue
		}
		action := a.policy.For(table)
		a.metrics.childFailure(table, string(action))
		if action == blueprint.Abort {
			a.out.InsertedCounts[table] = 0
			// A failed batch may have left some rows behind.
			a.written = append(a.written, table)
			return a.rollback(ctx, table, msg)
		}
		a.out.InsertedCounts[table] = n
		if n > 0 {
			a.written = append(a.written, table)
		}
		a.childWarning(ctx, table, msg)
	}
	return nil
}

// childWarning records a child table problem that does not stop the attempt.
func (a *attempt) childWarning(ctx context.Context, table, msg string) {
	warning := fmt.Sprintf("%s: %s", table, msg)
	a.out.Warnings = append(a.out.Warnings, warning)
	a.logger.Printf("promotion %s: child table warning, continuing: %s", a.out.PromotionID, warning)
	a.report(ctx, errorlog.Report{
		ProspectID: a.out.ProspectID,
		ClientID:   a.out.ClientID,
		Process:    errorlog.ProcessChildInsert,
		Message:    warning,
		Severity:   models.SeverityMedium,
	})
}

// writeChild returns the number of rows written and, when the table was not
// fully written, a failure message.
func (a *attempt) writeChild(ctx context.Context, table string, p models.DestinationPayload) (int, string) {
	var one any
	switch table {
	case destination.TableEmployees:
		if len(p.Employees) == 0 {
			return 0, ""
		}
		records := make([]destination.Record, 0, len(p.Employees))
		for _, emp := range p.Employees {
			emp.ClientID = a.out.ClientID
			rec, err := destination.RecordOf(emp)
			if err != nil {
				return 0, err.Error()
			}
			records = append(records, rec)
		}
		res, err := a.dest.InsertBatch(ctx, table, records)
		if err != nil {
			return 0, err.Error()
		}
		if !res.Success {
			return 0, res.Message
		}
		if res.Count != len(records) {
			return res.Count, fmt.Sprintf("batch stored %d of %d rows", res.Count, len(records))
		}
		return res.Count, ""
	case destination.TableComplianceFlags:
		flags := p.ComplianceFlags
		flags.ClientID = a.out.ClientID
		one = flags
	case destination.TableFinancialModels:
		fm := p.FinancialModel
		fm.ClientID = a.out.ClientID
		one = fm
	case destination.TableSavingsScenarios:
		s := p.SavingsScenario
		s.ClientID = a.out.ClientID
		one = s
	default:
		return 0, fmt.Sprintf("no mapping for table %q", table)
	}
	rec, err := destination.RecordOf(one)
	if err != nil {
		return 0, err.Error()
	}
	res, err := a.dest.InsertOne(ctx, table, rec)
	if err != nil {
		return 0, err.Error()
	}
	if !res.Success {
		return 0, res.Message
	}
	return 1, ""
}

// rollback deletes the rows written so far, newest table first.
func (a *attempt) rollback(ctx context.Context, table, msg string) *failure {
	cause := fmt.Sprintf("%s: %s", table, msg)
	a.logger.Printf("promotion %s: aborting after %s, removing %d tables", a.out.PromotionID, cause, len(a.written))

	cctx, cancel := a.finalizeContext(ctx)
	defer cancel()
	var leftovers []string
	for i := len(a.written) - 1; i >= 0; i-- {
		t := a.written[i]
		res, err := a.dest.Query(cctx, fmt.Sprintf("DELETE FROM %s WHERE client_id = $1", t), a.out.ClientID)
		switch {
		case err != nil:
			leftovers = append(leftovers, fmt.Sprintf("%s: %v", t, err))
		case !res.Success:
			leftovers = append(leftovers, fmt.Sprintf("%s: %s", t, res.Message))
		}
	}

	f := &failure{
		stage:          StateWriting,
		err:            fmt.Errorf("%w: %s", ErrInsertFailed, cause),
		prospectStatus: models.ProspectStatusInsertFailed,
		logStatus:      models.PromotionStatusRolledBack,
		process:        errorlog.ProcessDestination,
		severity:       models.SeverityHigh,
	}
	if len(leftovers) > 0 {
		f.err = fmt.Errorf("%w: %s; rollback incomplete: %s", ErrInsertFailed, cause, strings.Join(leftovers, "; "))
		f.logStatus = models.PromotionStatusFailed
		f.severity = models.SeverityCritical
	}
	return f
}

func (a *attempt) insertFailure(msg string, severity models.Severity) *failure {
	return &failure{
		stage:          StateWriting,
		err:            fmt.Errorf("%w: %s", ErrInsertFailed, msg),
		prospectStatus: models.ProspectStatusInsertFailed,
		logStatus:      models.PromotionStatusFailed,
		process:        errorlog.ProcessDestination,
		severity:       severity,
	}
}

// markCompleted writes the log entry, when asked to, and then flips the
// prospect to completed. The status flip goes last so a crash in between is
// repaired by the recovery check on the next attempt.
func (a *attempt) markCompleted(ctx context.Context, writeEntry bool, payload *models.DestinationPayload) (Outcome, error) {
	a.out.State = StateFinalizing
	start := time.Now()
	defer a.metrics.stage(StateFinalizing, start)
	fctx, cancel := a.finalizeContext(ctx)
	defer cancel()

	a.out.Status = models.PromotionStatusCompleted
	if writeEntry {
		a.record(fctx, ctx, models.PromotionLogEntry{
			PromotionID:          a.out.PromotionID,
			ProspectID:           a.out.ProspectID,
			ClientID:             a.out.ClientID,
			Status:               models.PromotionStatusCompleted,
			Stage:                string(StateCompleted),
			Warnings:             a.out.Warnings,
			InsertedCounts:       a.out.InsertedCounts,
			BlueprintVersionHash: a.bpHash,
			CreatedAt:            a.now().UTC(),
		}, payload)
	}

	clientID := a.out.ClientID
	_, err := a.store.UpdateProspect(fctx, docstore.ProspectUpdate{
		ProspectID:     a.out.ProspectID,
		Status:         models.ProspectStatusCompleted,
		ExpectedStatus: models.ProspectStatusPromoting,
		ClientID:       &clientID,
	})
	a.out.State = StateCompleted
	a.metrics.attempt(string(models.PromotionStatusCompleted))
	if err != nil {
		a.report(ctx, errorlog.Report{
			ProspectID: a.out.ProspectID,
			ClientID:   clientID,
			Process:    errorlog.ProcessFinalize,
			Message:    fmt.Sprintf("set prospect completed: %v", err),
			Severity:   models.SeverityCritical,
		})
		return a.out, fmt.Errorf("finalize prospect %s: %w", a.out.ProspectID, err)
	}
	a.logger.Printf("promotion %s completed: prospect %s -> client %s (%d warnings)",
		a.out.PromotionID, a.out.ProspectID, clientID, len(a.out.Warnings))
	return a.out, nil
}

// fail reports f, moves the prospect to its terminal status and writes the
// attempt's log entry before returning f.err.
func (a *attempt) fail(ctx context.Context, f failure) (Outcome, error) {
	a.logger.Printf("promotion %s failed at %s: %v", a.out.PromotionID, f.stage, f.err)
	a.report(ctx, errorlog.Report{
		ProspectID: a.out.ProspectID,
		ClientID:   a.out.ClientID,
		Process:    f.process,
		Message:    f.err.Error(),
		Severity:   f.severity,
	})

	fctx, cancel := a.finalizeContext(ctx)
	defer cancel()
	a.out.State = StateFailed
	a.out.Status = f.logStatus
	a.record(fctx, ctx, models.PromotionLogEntry{
		PromotionID:          a.out.PromotionID,
		ProspectID:           a.out.ProspectID,
		ClientID:             a.out.ClientID,
		Status:               f.logStatus,
		Stage:                string(f.stage),
		ErrorMessage:         f.err.Error(),
		Warnings:             a.out.Warnings,
		InsertedCounts:       a.out.InsertedCounts,
		BlueprintVersionHash: a.bpHash,
		CreatedAt:            a.now().UTC(),
	}, nil)

	if _, err := a.store.UpdateProspect(fctx, docstore.ProspectUpdate{
		ProspectID:       a.out.ProspectID,
		Status:           f.prospectStatus,
		ExpectedStatus:   models.ProspectStatusPromoting,
		ValidationErrors: f.validationErrors,
	}); err != nil {
		a.report(ctx, errorlog.Report{
			ProspectID: a.out.ProspectID,
			Process:    errorlog.ProcessFinalize,
			Message:    fmt.Sprintf("set prospect %s: %v", f.prospectStatus, err),
			Severity:   models.SeverityCritical,
		})
	}
	a.metrics.attempt(string(f.logStatus))
	return a.out, f.err
}

// halt ends an attempt cut short by the caller. The prospect has already been
// released; nothing is logged as the attempt made no decision.
func (a *attempt) halt(ctx context.Context, err error) (Outcome, error) {
	a.out.State = StateFailed
	a.report(ctx, errorlog.Report{
		ProspectID: a.out.ProspectID,
		Process:    errorlog.ProcessReadiness,
		Message:    err.Error(),
		Severity:   models.SeverityLow,
	})
	return a.out, err
}

// release returns a claimed prospect to client so a later trigger can run.
func (a *attempt) release(ctx context.Context) {
	fctx, cancel := a.finalizeContext(ctx)
	defer cancel()
	if _, err := a.store.UpdateProspect(fctx, docstore.ProspectUpdate{
		ProspectID:     a.out.ProspectID,
		Status:         models.ProspectStatusClient,
		ExpectedStatus: models.ProspectStatusPromoting,
	}); err != nil {
		a.logger.Printf("promotion %s: release claim on %s: %v", a.out.PromotionID, a.out.ProspectID, err)
	}
}

func (a *attempt) record(fctx, ctx context.Context, entry models.PromotionLogEntry, payload *models.DestinationPayload) {
	key, err := a.audit.Record(fctx, entry, payload)
	if err != nil {
		a.report(ctx, errorlog.Report{
			ProspectID: entry.ProspectID,
			ClientID:   entry.ClientID,
			Process:    errorlog.ProcessFinalize,
			Message:    fmt.Sprintf("append promotion log %s: %v", entry.PromotionID, err),
			Severity:   models.SeverityHigh,
		})
		return
	}
	a.out.ArchiveKey = key
}

func (a *attempt) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.finalizeTTL)
}
