// Package approval posts out-of-region approval requests to managers.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/sms"
)

// NotificationStore is the subset of the store the requester needs.
type NotificationStore interface {
	CreateNotification(n models.Notification) (string, error)
	GetSalesRep(id string) (*models.SalesRep, error)
}

// Requester files OOR approval requests. Each request writes a durable
// notification for the manager; the SMS ping is best effort and never
// blocks or fails the request.
type Requester struct {
	st        NotificationStore
	sender    sms.Sender
	managerID string
}

// NewRequester creates a requester delivering to the manager identified by
// managerID.
func NewRequester(st NotificationStore, sender sms.Sender, managerID string) *Requester {
	return &Requester{st: st, sender: sender, managerID: managerID}
}

// Request files an approval request for a visit whose customer district lies
// outside the rep's region.
func (r *Requester) Request(ctx context.Context, visitID, repID, customerDistrict string) error {
	slog.Debug("Requester.Request", "visitID", visitID, "repID", repID, "district", customerDistrict)

	repName := repID
	if rep, err := r.st.GetSalesRep(repID); err != nil {
		slog.Warn("Requester.Request: sales rep lookup failed", "error", err, "repID", repID)
	} else if rep != nil {
		repName = rep.Name
	}

	n := models.Notification{
		ID:          uuid.NewString(),
		RecipientID: r.managerID,
		Kind:        models.NotificationKindOORApproval,
		Title:       "Bolge disi ziyaret onayi bekleniyor",
		Body:        fmt.Sprintf("%s icin %s bolgesinde ziyaret onayi gerekiyor", repName, customerDistrict),
		VisitID:     visitID,
		Status:      models.NotificationStatusUnread,
		CreatedAt:   time.Now(),
	}
	if _, err := r.st.CreateNotification(n); err != nil {
		return fmt.Errorf("failed to create approval notification: %w", err)
	}

	if r.sender != nil {
		go r.notifyBySMS(n.Body)
	}
	return nil
}

// notifyBySMS pings the manager's phone. Failures are logged and dropped;
// the notification record is the source of truth.
func (r *Requester) notifyBySMS(body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager, err := r.st.GetSalesRep(r.managerID)
	if err != nil || manager == nil || manager.Phone == "" {
		slog.Debug("Requester: no manager phone for SMS ping", "managerID", r.managerID)
		return
	}
	if err := r.sender.SendSMS(ctx, manager.Phone, body); err != nil {
		slog.Warn("Requester: approval SMS ping failed", "error", err, "managerID", r.managerID)
	}
}
