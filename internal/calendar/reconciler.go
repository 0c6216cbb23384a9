package calendar

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/accounts"
	"eventsieve/internal/store"
)

// DefaultTimeZone is applied to timed events pushed to the external
// calendar.
const DefaultTimeZone = "Asia/Singapore"

// Reconciler pushes and deletes events against every linked account.
//
// Every account is always attempted once per call; a failure on one account
// never aborts the others. The aggregate result is the AND across accounts
// so a caller can retry the whole reconciliation later.
type Reconciler struct {
	store    store.Store
	accounts *accounts.Manager
	client   *Client
	timeZone string
	log      *logrus.Logger
}

// NewReconciler creates a Reconciler. An empty timeZone selects
// DefaultTimeZone.
func NewReconciler(s store.Store, am *accounts.Manager, client *Client, timeZone string, log *logrus.Logger) *Reconciler {
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}
	return &Reconciler{
		store:    s,
		accounts: am,
		client:   client,
		timeZone: timeZone,
		log:      log,
	}
}

// Push upserts the event on every linked account. Returns true only when
// every account succeeded. A store read failure lists zero accounts and
// returns false.
func (r *Reconciler) Push(ctx context.Context, e *store.CalendarEvent) bool {
	accts, err := r.store.ListAccounts(ctx)
	if err != nil {
		r.log.WithError(err).Error("listing accounts for push")
		return false
	}

	payload := r.payload(e)

	all := true
	for _, acct := range accts {
		if !r.pushAccount(ctx, acct, e.ID, payload) {
			all = false
		}
	}
	return all
}

// Delete removes the event from every linked account. Not-found is a
// successful no-op; any other failure marks that account failed.
func (r *Reconciler) Delete(ctx context.Context, eventID string) bool {
	accts, err := r.store.ListAccounts(ctx)
	if err != nil {
		r.log.WithError(err).Error("listing accounts for delete")
		return false
	}

	all := true
	for _, acct := range accts {
		if !r.deleteAccount(ctx, acct, eventID) {
			all = false
		}
	}
	return all
}

func (r *Reconciler) pushAccount(ctx context.Context, acct *store.LinkedAccount, eventID string, payload EventPayload) bool {
	alog := r.log.WithField("account", acct.ID)

	token := r.validAccessToken(ctx, acct)
	if token == "" {
		alog.Error("no access token on file, push failed")
		return false
	}

	resp, err := r.client.Update(ctx, token, eventID, payload)
	if err != nil {
		alog.WithError(err).Error("update call failed")
		return false
	}

	switch {
	case resp.OK():
		alog.WithField("event", eventID).Info("event updated")
		return true

	case resp.NotFound():
		// Never created there: insert with the explicit id instead.
		ins, err := r.client.Insert(ctx, token, eventID, payload)
		if err != nil {
			alog.WithError(err).Error("insert call failed")
			return false
		}
		if !ins.OK() {
			alog.WithFields(logrus.Fields{"event": eventID, "status": ins.StatusCode, "body": ins.Body}).Error("insert rejected")
			return false
		}
		alog.WithField("event", eventID).Info("event inserted")
		return true

	default:
		alog.WithFields(logrus.Fields{"event": eventID, "status": resp.StatusCode, "body": resp.Body}).Error("update rejected")
		return false
	}
}

func (r *Reconciler) deleteAccount(ctx context.Context, acct *store.LinkedAccount, eventID string) bool {
	alog := r.log.WithField("account", acct.ID)

	token := r.validAccessToken(ctx, acct)
	if token == "" {
		alog.Error("no access token on file, delete failed")
		return false
	}

	resp, err := r.client.Delete(ctx, token, eventID)
	if err != nil {
		alog.WithError(err).Error("delete call failed")
		return false
	}

	switch {
	case resp.OK():
		alog.WithField("event", eventID).Info("event deleted")
		return true
	case resp.NotFound():
		// Already absent remotely.
		alog.WithField("event", eventID).Info("event already absent")
		return true
	default:
		alog.WithFields(logrus.Fields{"event": eventID, "status": resp.StatusCode, "body": resp.Body}).Error("delete rejected")
		return false
	}
}

// validAccessToken probes the stored access token and refreshes it when the
// probe reports an authorization failure. Refresh failure falls back to the
// original, possibly expired token — the subsequent write call is allowed to
// fail, and that failure is what gets reported.
func (r *Reconciler) validAccessToken(ctx context.Context, acct *store.LinkedAccount) string {
	alog := r.log.WithField("account", acct.ID)

	if acct.AccessToken == "" {
		return ""
	}

	resp, err := r.client.Probe(ctx, acct.AccessToken)
	if err != nil {
		alog.WithError(err).Warn("token probe failed, proceeding with stored token")
		return acct.AccessToken
	}
	if resp.OK() {
		return acct.AccessToken
	}

	if resp.Unauthorized() && acct.RefreshToken != "" {
		newToken, err := r.accounts.Refresh(ctx, acct.RefreshToken)
		if err != nil {
			alog.WithError(err).Warn("token refresh failed, proceeding with possibly expired token")
			return acct.AccessToken
		}
		if err := r.store.UpdateAccessToken(ctx, acct.ID, newToken); err != nil {
			alog.WithError(err).Warn("persisting refreshed token failed")
		}
		alog.Info("access token refreshed")
		return newToken
	}

	alog.WithField("status", resp.StatusCode).Warn("token probe rejected, proceeding with stored token")
	return acct.AccessToken
}

// payload renders the event for the wire. Bare HH:MM times are normalized
// to HH:MM:SS; all-day events use date fields with the API's exclusive end
// date convention.
func (r *Reconciler) payload(e *store.CalendarEvent) EventPayload {
	p := EventPayload{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
	}

	endDate := e.EndDate
	if endDate == "" {
		endDate = e.StartDate
	}

	if e.AllDay {
		p.Start = EventInstant{Date: e.StartDate}
		p.End = EventInstant{Date: nextDay(endDate)}
		return p
	}

	endTime := e.EndTime
	if endTime == "" {
		endTime = e.StartTime
	}
	p.Start = EventInstant{
		DateTime: e.StartDate + "T" + normalizeClock(e.StartTime),
		TimeZone: r.timeZone,
	}
	p.End = EventInstant{
		DateTime: endDate + "T" + normalizeClock(endTime),
		TimeZone: r.timeZone,
	}
	return p
}

// normalizeClock appends seconds to a bare HH:MM value; complete values pass
// through unchanged.
func normalizeClock(clock string) string {
	if len(clock) == 5 {
		return clock + ":00"
	}
	return clock
}

// nextDay returns the day after date; the API treats all-day end dates as
// exclusive. Unparseable input passes through unchanged.
func nextDay(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}
