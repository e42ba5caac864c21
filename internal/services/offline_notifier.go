package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// OfflineNotifier emails an alert when a tracked device goes offline,
// either through an explicit offline event or the staleness sweep.
// Delivery is best-effort: a failed send is logged and forgotten.
type OfflineNotifier struct {
	smtpHost     string
	smtpPort     int
	sender       string
	smtpPassword string
	recipients   []string
	log          *observability.Logger
}

// NewOfflineNotifier creates a notifier. Returns nil when SMTP is not
// configured; callers treat a nil notifier as disabled.
func NewOfflineNotifier(smtpHost string, smtpPort int, sender, password string, recipients []string) *OfflineNotifier {
	if smtpHost == "" || len(recipients) == 0 {
		return nil
	}
	return &OfflineNotifier{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		sender:       sender,
		smtpPassword: password,
		recipients:   recipients,
		log:          observability.WithField("component", "notifier"),
	}
}

// DeviceOffline sends the offline alert for a device
func (n *OfflineNotifier) DeviceOffline(ctx context.Context, rec *models.DeviceRecord) {
	subject := fmt.Sprintf("[GeoTrack] Device %s is offline", rec.Name)
	body := fmt.Sprintf(
		"Device: %s (%s)\nLast location: %s (%.6f, %.6f)\nLast update: %s",
		rec.Name, rec.DeviceID,
		rec.LocationName,
		rec.Coordinates.Lat, rec.Coordinates.Lng,
		rec.LastUpdate.UTC().Format("2006-01-02 15:04:05 UTC"),
	)

	// Fresh mail service per alert — nikoksr/notify accumulates
	// receivers across AddReceivers calls
	mailSvc := mail.New(n.sender, fmt.Sprintf("%s:%d", n.smtpHost, n.smtpPort))
	mailSvc.AuthenticateSMTP("", n.sender, n.smtpPassword, n.smtpHost)
	mailSvc.AddReceivers(n.recipients...)

	notifier := notify.New()
	notifier.UseServices(mailSvc)

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := notifier.Send(sendCtx, subject, body); err != nil {
		n.log.WithField("device_id", rec.DeviceID).Warnf("offline alert failed: %v", err)
		return
	}

	n.log.WithField("device_id", rec.DeviceID).Infof("offline alert sent to %d recipients", len(n.recipients))
}
