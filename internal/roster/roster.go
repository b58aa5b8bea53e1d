// Package roster mirrors the admissions roster into the students table and
// releases the beds of students who left.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata" // roster timezones must resolve on minimal images

	"go.uber.org/zap"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/model"
)

// StudentSyncer persists a full roster snapshot and reports who disappeared.
type StudentSyncer interface {
	SyncRoster(ctx context.Context, now time.Time, students []model.Student, present []string) ([]string, error)
}

// Vacater releases a student's bed. *allocation.Engine implements it.
type Vacater interface {
	Vacate(ctx context.Context, studentID string) error
}

// Result summarizes one sync cycle.
type Result struct {
	Fetched  int
	Skipped  int
	Departed []string
	Vacated  int
}

// Service orchestrates the roster sync.
type Service struct {
	cfg     *config.RosterConfig
	store   StudentSyncer
	vacater Vacater
	client  *http.Client
	log     *zap.Logger
}

// NewService creates and initializes a new roster sync service.
func NewService(cfg *config.RosterConfig, store StudentSyncer, vacater Vacater, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		vacater: vacater,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Run syncs once immediately and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("roster sync is disabled, not starting")
		return
	}
	s.log.Info("starting roster sync", zap.Duration("interval", s.cfg.Interval))

	s.syncAndLog(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("roster sync shutting down")
			return
		case <-timer.C:
			s.syncAndLog(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) syncAndLog(ctx context.Context) {
	res, err := s.SyncOnce(ctx)
	if err != nil {
		s.log.Error("roster sync failed", zap.Error(err))
		return
	}
	s.log.Info("roster sync finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("skipped", res.Skipped),
		zap.Int("departed", len(res.Departed)),
		zap.Int("vacated", res.Vacated))
}

// SyncOnce fetches the whole roster and applies it. Any fetch error aborts
// the cycle: a partial roster would mark the missing pages as departed.
func (s *Service) SyncOnce(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()

	var items []ApiStudent
	total := 1
	pageSize := s.cfg.PageSize
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch roster page %d: %w", page, err)
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		items = append(items, resp.Data.Items...)
		s.log.Debug("fetched roster page", zap.Int("page", page), zap.Int("items", len(items)), zap.Int("total", total))
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("admissions returned an empty roster, refusing to deactivate every student")
	}

	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", s.cfg.Timezone, err)
	}

	res := &Result{Fetched: len(items)}
	students := make([]model.Student, 0, len(items))
	// Listed but unparseable entries are still enrolled.
	var unparsed []string
	for _, item := range items {
		student, err := toStudent(item, loc)
		if err != nil {
			s.log.Warn("skipping roster entry", zap.String("student_id", item.ID), zap.Error(err))
			res.Skipped++
			if id := strings.TrimSpace(item.ID); id != "" {
				unparsed = append(unparsed, id)
			}
			continue
		}
		students = append(students, student)
	}

	departed, err := s.store.SyncRoster(ctx, now, students, unparsed)
	if err != nil {
		return nil, fmt.Errorf("failed to store roster: %w", err)
	}
	res.Departed = departed

	if !s.cfg.VacateDeparted {
		return res, nil
	}
	for _, id := range departed {
		if err := s.vacater.Vacate(ctx, id); err != nil {
			s.log.Error("failed to vacate departed student", zap.String("student_id", id), zap.Error(err))
			continue
		}
		res.Vacated++
	}
	return res, nil
}

func toStudent(item ApiStudent, loc *time.Location) (model.Student, error) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return model.Student{}, fmt.Errorf("missing id")
	}
	gender, err := normalizeGender(item.Gender)
	if err != nil {
		return model.Student{}, err
	}
	admitted, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(item.AdmissionDate), loc)
	if err != nil {
		return model.Student{}, fmt.Errorf("failed to parse admission date %q: %w", item.AdmissionDate, err)
	}
	return model.Student{
		ID:            id,
		Name:          strings.TrimSpace(item.Name),
		Gender:        gender,
		ClassName:     strings.TrimSpace(item.ClassName),
		AdmissionDate: admitted.UTC(),
		Active:        true,
	}, nil
}

func normalizeGender(raw string) (model.Gender, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M", "MALE":
		return model.GenderMale, nil
	case "F", "FEMALE":
		return model.GenderFemale, nil
	default:
		return "", fmt.Errorf("unsupported gender %q", raw)
	}
}

func (s *Service) fetchPage(ctx context.Context, page int) (*ApiResponse, error) {
	payload := map[string]any{
		"page":     page,
		"pageSize": s.cfg.PageSize,
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp ApiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code: %d", apiResp.Code)
	}
	return &apiResp, nil
}
