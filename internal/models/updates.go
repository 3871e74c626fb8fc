package models

// ApplyProfileUpdates applies a partial-field update map to an in-memory
// profile snapshot. The same map is what the profile store upserts, so the
// snapshot stays consistent with the row without a re-read mid-turn.
// Unknown keys are ignored; the store rejects them independently.
func ApplyProfileUpdates(p *UserProfile, updates map[string]interface{}) {
	if p == nil || len(updates) == 0 {
		return
	}
	for k, v := range updates {
		switch k {
		case "full_name":
			p.FullName = toStringPtr(v)
		case "age":
			p.Age = toIntPtr(v)
		case "city_name":
			p.CityName = toStringPtr(v)
		case "education":
			p.Education = toStringPtr(v)
		case "onboarding_completed":
			if b, ok := v.(bool); ok {
				// Monotonic false -> true; never un-completes.
				if b {
					p.OnboardingCompleted = true
				}
			}
		case "active_workflow":
			p.ActiveWorkflow = toStringPtr(v)
		}
	}
}

// ApplyPreferenceUpdates applies a partial-field update map to an in-memory
// preferences snapshot. workflow_data entries merge key-by-key; a nil entry
// value deletes the flag, mirroring the jsonb merge the store performs.
func ApplyPreferenceUpdates(p *UserPreferences, updates map[string]interface{}) {
	if p == nil || len(updates) == 0 {
		return
	}
	for k, v := range updates {
		switch k {
		case "course_interest":
			p.CourseInterest = toStringSlice(v)
		case "enem_score":
			p.EnemScore = toFloatPtr(v)
		case "per_capita_income":
			p.PerCapitaIncome = toFloatPtr(v)
		case "quota_types":
			p.QuotaTypes = toStringSlice(v)
		case "preferred_shifts":
			p.PreferredShifts = toStringSlice(v)
		case "location_preference":
			p.LocationPreference = toStringPtr(v)
		case "university_preference":
			p.UniversityPreference = toStringPtr(v)
		case "program_preference":
			p.ProgramPreference = toStringPtr(v)
		case "registration_step":
			p.RegistrationStep = toStringPtr(v)
		case "workflow_data":
			patch, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if p.WorkflowData == nil {
				p.WorkflowData = make(map[string]interface{}, len(patch))
			}
			for fk, fv := range patch {
				if fv == nil {
					delete(p.WorkflowData, fk)
				} else {
					p.WorkflowData[fk] = fv
				}
			}
		}
	}
}

func toStringPtr(v interface{}) *string {
	if v == nil {
		return nil
	}
	switch s := v.(type) {
	case string:
		return &s
	case *string:
		return s
	}
	return nil
}

func toIntPtr(v interface{}) *int {
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	}
	return nil
}

func toFloatPtr(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	}
	return nil
}

func toStringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
