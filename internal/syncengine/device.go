package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/store"
)

const metaDeviceKey = "device"

// LoadOrCreateDevice returns this client's device identity from the store
// metadata, minting and persisting one on first use.
func LoadOrCreateDevice(ctx context.Context, st *store.Store, now func() time.Time) (alarm.Device, error) {
	raw, err := st.GetMeta(ctx, metaDeviceKey)
	if err == nil {
		var d alarm.Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return alarm.Device{}, fmt.Errorf("decoding device identity: %w", err)
		}
		return d, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return alarm.Device{}, err
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "alarmify"
	}
	d := alarm.Device{
		DeviceID:     uuid.NewString(),
		Name:         host,
		PlatformTag:  runtime.GOOS,
		RegisteredAt: now(),
	}
	if err := saveDevice(ctx, st, d); err != nil {
		return alarm.Device{}, err
	}
	return d, nil
}

func saveDevice(ctx context.Context, st *store.Store, d alarm.Device) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding device identity: %w", err)
	}
	return st.SetMeta(ctx, metaDeviceKey, string(raw))
}
