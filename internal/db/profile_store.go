package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/models"
)

// ProfileStore reads and writes user_profiles and user_preferences rows.
// All mutations are partial-field upserts keyed by user id; concurrent
// turns for the same user resolve last-write-wins.
type ProfileStore struct {
	client *Client
	logger *zap.Logger
}

func NewProfileStore(client *Client, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{client: client, logger: logger}
}

var profileColumns = map[string]struct{}{
	"full_name":            {},
	"age":                  {},
	"city_name":            {},
	"education":            {},
	"onboarding_completed": {},
	"active_workflow":      {},
}

var preferenceColumns = map[string]struct{}{
	"course_interest":       {},
	"enem_score":            {},
	"per_capita_income":     {},
	"quota_types":           {},
	"preferred_shifts":      {},
	"location_preference":   {},
	"university_preference": {},
	"program_preference":    {},
	"workflow_data":         {},
	"registration_step":     {},
}

// GetProfile loads a user's profile, creating the row on first contact.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := s.client.DB().GetContext(ctx, &p,
		`SELECT user_id, full_name, age, city_name, education, onboarding_completed, active_workflow, created_at, updated_at
		 FROM user_profiles WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return s.createProfile(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &p, nil
}

func (s *ProfileStore) createProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := s.client.DB().GetContext(ctx, &p,
		`INSERT INTO user_profiles (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		 RETURNING user_id, full_name, age, city_name, education, onboarding_completed, active_workflow, created_at, updated_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	s.logger.Info("Created profile on first contact", zap.String("user_id", userID))
	return &p, nil
}

// UpdateProfile upserts the given profile fields without clobbering the
// rest of the row. Unknown keys are rejected so workflow bugs surface
// instead of silently writing nothing.
func (s *ProfileStore) UpdateProfile(ctx context.Context, userID string, updates map[string]interface{}) error {
	query, args, err := buildPartialUpsert("user_profiles", profileColumns, userID, updates)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}
	if _, err := s.client.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// preferencesRow maps the user_preferences row; array and jsonb columns
// need driver-specific types before converting to the model.
type preferencesRow struct {
	UserID               string         `db:"user_id"`
	CourseInterest       pq.StringArray `db:"course_interest"`
	EnemScore            *float64       `db:"enem_score"`
	PerCapitaIncome      *float64       `db:"per_capita_income"`
	QuotaTypes           pq.StringArray `db:"quota_types"`
	PreferredShifts      pq.StringArray `db:"preferred_shifts"`
	LocationPreference   *string        `db:"location_preference"`
	UniversityPreference *string        `db:"university_preference"`
	ProgramPreference    *string        `db:"program_preference"`
	WorkflowData         []byte         `db:"workflow_data"`
	RegistrationStep     *string        `db:"registration_step"`
}

// GetPreferences loads a user's preferences; a missing row yields an empty
// record rather than an error, preferences accrete lazily.
func (s *ProfileStore) GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	var row preferencesRow
	err := s.client.DB().GetContext(ctx, &row,
		`SELECT user_id, course_interest, enem_score, per_capita_income, quota_types, preferred_shifts,
		        location_preference, university_preference, program_preference, workflow_data, registration_step
		 FROM user_preferences WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return &models.UserPreferences{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := &models.UserPreferences{
		UserID:               row.UserID,
		CourseInterest:       row.CourseInterest,
		EnemScore:            row.EnemScore,
		PerCapitaIncome:      row.PerCapitaIncome,
		QuotaTypes:           row.QuotaTypes,
		PreferredShifts:      row.PreferredShifts,
		LocationPreference:   row.LocationPreference,
		UniversityPreference: row.UniversityPreference,
		ProgramPreference:    row.ProgramPreference,
		RegistrationStep:     row.RegistrationStep,
	}
	if len(row.WorkflowData) > 0 {
		if err := json.Unmarshal(row.WorkflowData, &prefs.WorkflowData); err != nil {
			s.logger.Warn("Discarding unreadable workflow_data",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return prefs, nil
}

// UpdatePreferences upserts the given preference fields. workflow_data is
// merged jsonb-wise so one workflow's transient flags never erase another's.
func (s *ProfileStore) UpdatePreferences(ctx context.Context, userID string, updates map[string]interface{}) error {
	query, args, err := buildPartialUpsert("user_preferences", preferenceColumns, userID, updates)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}
	if _, err := s.client.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

// buildPartialUpsert renders an INSERT ... ON CONFLICT DO UPDATE statement
// touching only the provided columns. Columns are emitted in sorted order
// so statements are deterministic.
func buildPartialUpsert(table string, allowed map[string]struct{}, userID string, updates map[string]interface{}) (string, []interface{}, error) {
	if len(updates) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(updates))
	for k := range updates {
		if _, ok := allowed[k]; !ok {
			return "", nil, fmt.Errorf("unknown column %q for %s", k, table)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	insertCols := []string{"user_id"}
	placeholders := []string{"$1"}
	setClauses := make([]string, 0, len(cols)+1)
	args := []interface{}{userID}

	for i, col := range cols {
		insertCols = append(insertCols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		if col == "workflow_data" {
			setClauses = append(setClauses,
				fmt.Sprintf("%s = COALESCE(%s.%s, '{}'::jsonb) || EXCLUDED.%s", col, table, col, col))
		} else {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
		arg, err := bindValue(col, updates[col])
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (user_id) DO UPDATE SET %s",
		table,
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(setClauses, ", "),
	)
	return query, args, nil
}

func bindValue(col string, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []string:
		return pq.Array(val), nil
	case []interface{}:
		strs := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("column %q: non-string array element", col)
			}
			strs = append(strs, s)
		}
		return pq.Array(strs), nil
	case map[string]interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		return b, nil
	default:
		return v, nil
	}
}
