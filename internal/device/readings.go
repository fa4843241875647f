package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Detection status values reported by LD2410-family mmWave sensors.
const (
	StatusNoTarget     = "No Target"
	StatusMoving       = "Moving Target"
	StatusStatic       = "Static Target"
	StatusMovingStatic = "Moving and Static Targets"
)

// Policy turns raw distance/energy metrics into a presence decision when
// the sensor does not report a status or boolean. Zero fields are ignored.
type Policy struct {
	// MaxDistance is the farthest target distance that still counts.
	MaxDistance float64
	// MinEnergy is the weakest target energy that still counts.
	MinEnergy float64
}

// Classify decides occupancy from a sensor readings map. Keys are tried
// in order: detection_status, occupancy, presence, then distance/energy
// against the policy. A map with none of them is a sensor fault.
func Classify(readings map[string]any, policy Policy) (bool, error) {
	if v, ok := readings["detection_status"]; ok {
		s, _ := v.(string)
		switch s {
		case StatusNoTarget:
			return false, nil
		case StatusMoving, StatusStatic, StatusMovingStatic:
			return true, nil
		default:
			return false, fmt.Errorf("%w: unknown detection_status %q", ErrSensorFault, s)
		}
	}

	for _, key := range []string{"occupancy", "presence"} {
		if v, ok := readings[key]; ok {
			b, err := asBool(v)
			if err != nil {
				return false, fmt.Errorf("%w: %s: %v", ErrSensorFault, key, err)
			}
			return b, nil
		}
	}

	distance, hasDistance := asFloat(readings["distance"])
	energy, hasEnergy := asFloat(readings["energy"])
	if !hasDistance && !hasEnergy {
		return false, fmt.Errorf("%w: no presence field in readings", ErrSensorFault)
	}
	if hasEnergy && (energy <= 0 || energy < policy.MinEnergy) {
		return false, nil
	}
	if hasDistance && (distance <= 0 || (policy.MaxDistance > 0 && distance > policy.MaxDistance)) {
		return false, nil
	}
	return true, nil
}

// Describe renders the field that decided a readings map, for logs.
func Describe(readings map[string]any) string {
	for _, key := range []string{"detection_status", "occupancy", "presence"} {
		if v, ok := readings[key]; ok {
			return fmt.Sprintf("%s=%v", key, v)
		}
	}
	var parts []string
	for _, key := range []string{"distance", "energy"} {
		if v, ok := readings[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "on", "occupied", "detected":
			return true, nil
		case "off", "clear", "vacant":
			return false, nil
		}
		return strconv.ParseBool(b)
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	}
	return false, fmt.Errorf("unsupported type %T", v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
