package behavior

import "sort"

// FeatureVector summarizes one user's activity in the window:
// mean event hour, dominant day of week, total event count, and the
// number of distinct services touched.
type FeatureVector struct {
	Hour             float64
	DayOfWeek        float64
	ActivityVolume   float64
	ServiceDiversity float64
}

// Values returns the vector in model input order.
func (v FeatureVector) Values() []float32 {
	return []float32{
		float32(v.Hour),
		float32(v.DayOfWeek),
		float32(v.ActivityVolume),
		float32(v.ServiceDiversity),
	}
}

// UserFeatures pairs a user with their feature vector.
type UserFeatures struct {
	User   string
	Vector FeatureVector
}

// ExtractFeatures aggregates events into one feature vector per user.
// Events without a user are dropped. Output is sorted by user for
// deterministic scoring batches.
func ExtractFeatures(events []Event) []UserFeatures {
	type acc struct {
		hourSum  float64
		daySum   float64
		count    int
		services map[string]struct{}
	}
	byUser := make(map[string]*acc)
	for _, ev := range events {
		if ev.User == "" {
			continue
		}
		a := byUser[ev.User]
		if a == nil {
			a = &acc{services: make(map[string]struct{})}
			byUser[ev.User] = a
		}
		a.hourSum += float64(ev.EventTime.Hour())
		a.daySum += float64(ev.EventTime.Weekday())
		a.count++
		if ev.EventSource != "" {
			a.services[ev.EventSource] = struct{}{}
		}
	}

	out := make([]UserFeatures, 0, len(byUser))
	for user, a := range byUser {
		n := float64(a.count)
		out = append(out, UserFeatures{
			User: user,
			Vector: FeatureVector{
				Hour:             a.hourSum / n,
				DayOfWeek:        a.daySum / n,
				ActivityVolume:   n,
				ServiceDiversity: float64(len(a.services)),
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
