package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/clinic"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider on Google Calendar. Each practitioner
// owns one calendar, addressed by its calendar id.
type GoogleProvider struct {
	svc *gcal.Service
}

// NewGoogleProvider builds a provider from a service-account credentials file.
func NewGoogleProvider(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GoogleProvider, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(gcal.CalendarScope))
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return NewGoogleProviderFromService(svc), nil
}

func NewGoogleProviderFromService(svc *gcal.Service) *GoogleProvider {
	if svc == nil {
		panic("calendar: google service cannot be nil")
	}
	return &GoogleProvider{svc: svc}
}

func (p *GoogleProvider) busy(ctx context.Context, calendarID string, start, end time.Time) ([]Slot, error) {
	resp, err := p.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}
	out := make([]Slot, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		s, err1 := time.Parse(time.RFC3339, period.Start)
		e, err2 := time.Parse(time.RFC3339, period.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Slot{Start: s, End: e})
	}
	return out, nil
}

func (p *GoogleProvider) CheckAvailability(ctx context.Context, practitionerID string, start, end time.Time) (bool, error) {
	busy, err := p.busy(ctx, practitionerID, start, end)
	if err != nil {
		return false, err
	}
	return !overlapsAny(Slot{Start: start, End: end}, busy), nil
}

func (p *GoogleProvider) GetAvailableSlots(ctx context.Context, practitionerID string, date time.Time, slotMinutes int, hours *clinic.DayHours) ([]Slot, error) {
	open, closeAt, ok := dayBounds(date, hours)
	if !ok {
		return nil, nil
	}
	busy, err := p.busy(ctx, practitionerID, open, closeAt)
	if err != nil {
		return nil, err
	}
	return FreeSlots(open, closeAt, busy, slotMinutes), nil
}

func toGoogleEvent(ev Event) *gcal.Event {
	return &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Start.Location().String()},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.End.Location().String()},
	}
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, ev Event) (string, error) {
	created, err := p.svc.Events.Insert(ev.PractitionerID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}

func (p *GoogleProvider) UpdateEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return ErrEventNotFound
	}
	_, err := p.svc.Events.Patch(ev.PractitionerID, ev.ID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return mapGoogleError("patch event", err)
	}
	return nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, practitionerID, eventID string) error {
	if err := p.svc.Events.Delete(practitionerID, eventID).Context(ctx).Do(); err != nil {
		return mapGoogleError("delete event", err)
	}
	return nil
}

func mapGoogleError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return ErrEventNotFound
	}
	return fmt.Errorf("calendar: %s: %w", op, err)
}
