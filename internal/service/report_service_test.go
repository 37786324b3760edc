package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
)

func TestReportServiceGetReport(t *testing.T) {
	t.Parallel()

	svc := NewReportService(&fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, TotalRecipientCount: 5, SucceededCount: 3}, nil
		},
	}, &fakeRecipientRepo{
		countPendingFn: func(ctx context.Context, notificationID string) (int64, error) {
			return 2, nil
		},
	}, zap.NewNop())

	report, err := svc.GetReport(context.Background(), " n1 ")
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if report.Notification.ID != "n1" || report.PendingCount != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestReportServiceGetReportErrors(t *testing.T) {
	t.Parallel()

	svc := NewReportService(&fakeNotificationRepo{}, &fakeRecipientRepo{}, nil)

	if _, err := svc.GetReport(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetReport(\"\") error = %v, want ErrValidation", err)
	}
	if _, err := svc.GetReport(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetReport(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReportServiceRecordResponse(t *testing.T) {
	t.Parallel()

	var got domain.SurveyResponse
	svc := NewReportService(&fakeNotificationRepo{}, &fakeRecipientRepo{
		updateSurveyResponseFn: func(ctx context.Context, notificationID string, recipientID string, response domain.SurveyResponse) error {
			got = response
			return nil
		},
	}, zap.NewNop())

	yes := true
	if err := svc.RecordResponse(context.Background(), "n1", "r1", domain.SurveyResponse{YesNo: &yes}); err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	if got.YesNo == nil || !*got.YesNo {
		t.Fatalf("response = %+v", got)
	}

	if err := svc.RecordResponse(context.Background(), "n1", "r1", domain.SurveyResponse{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RecordResponse(empty) error = %v, want ErrValidation", err)
	}
	if err := svc.RecordResponse(context.Background(), "", "r1", domain.SurveyResponse{YesNo: &yes}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RecordResponse(no id) error = %v, want ErrValidation", err)
	}
}

func TestReportServiceGetRecipientStatus(t *testing.T) {
	t.Parallel()

	svc := NewReportService(&fakeNotificationRepo{}, &fakeRecipientRepo{
		getFn: func(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error) {
			return &domain.RecipientStatus{NotificationID: notificationID, RecipientID: recipientID, LastStatusCode: 201}, nil
		},
	}, zap.NewNop())

	status, err := svc.GetRecipientStatus(context.Background(), "n1", "r1")
	if err != nil {
		t.Fatalf("GetRecipientStatus() error = %v", err)
	}
	if status.LastStatusCode != 201 {
		t.Fatalf("LastStatusCode = %d, want 201", status.LastStatusCode)
	}
	if _, err := svc.GetRecipientStatus(context.Background(), "n1", " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
