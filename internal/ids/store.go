package ids

import (
	"context"
	"fmt"
	"math/rand"

	redis "github.com/redis/go-redis/v9"
)

// IDs are the clinician and patient identifiers attached to a
// dictation station. They tag generated notes and fetched records.
type IDs struct {
	DoctorID  string
	PatientID string
}

// Store keeps per-station identifiers in Redis so they survive client
// restarts and are visible to other tools on the same workstation.
type Store struct {
	redis  *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(station string) string {
	return s.prefix + "ids:" + station
}

func (s *Store) SetDoctorID(ctx context.Context, station, id string) error {
	if s.redis == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := s.redis.HSet(ctx, s.key(station), "doctor_id", id).Err(); err != nil {
		return fmt.Errorf("redis HSET %s doctor_id: %w", s.key(station), err)
	}
	return nil
}

func (s *Store) SetPatientID(ctx context.Context, station, id string) error {
	if s.redis == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := s.redis.HSet(ctx, s.key(station), "patient_id", id).Err(); err != nil {
		return fmt.Errorf("redis HSET %s patient_id: %w", s.key(station), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, station string) (IDs, error) {
	if s.redis == nil {
		return IDs{}, fmt.Errorf("redis client not configured")
	}
	vals, err := s.redis.HGetAll(ctx, s.key(station)).Result()
	if err != nil {
		return IDs{}, fmt.Errorf("redis HGETALL %s: %w", s.key(station), err)
	}
	return IDs{DoctorID: vals["doctor_id"], PatientID: vals["patient_id"]}, nil
}

// EnsurePatientID returns the station's patient ID, generating and
// persisting a fresh one when none is set.
func (s *Store) EnsurePatientID(ctx context.Context, station string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("redis client not configured")
	}
	id, err := s.redis.HGet(ctx, s.key(station), "patient_id").Result()
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("redis HGET %s patient_id: %w", s.key(station), err)
	}

	id = GeneratePatientID()
	if err := s.SetPatientID(ctx, station, id); err != nil {
		return "", err
	}
	return id, nil
}

// GeneratePatientID produces a random five-digit patient identifier.
func GeneratePatientID() string {
	return fmt.Sprintf("%d", 10000+rand.Intn(90000))
}
