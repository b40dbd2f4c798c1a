package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
)

// Register creates a cloud account interactively.
func (a *App) Register(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}

	if _, err := a.cloud.Register(ctx, email, string(password)); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			fmt.Println("An account with that email already exists.")
		} else {
			fmt.Println(err.Error())
		}
		return err
	}

	fmt.Println("Account created. Use 'login' to sign in.")
	return nil
}

// Login authenticates with the cloud, then starts the periodic sync loop and
// runs an initial sync.
func (a *App) Login(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}

	user, err := a.cloud.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			fmt.Println("Invalid email or password.")
		} else {
			fmt.Println(err.Error())
		}
		return err
	}

	fmt.Printf("Signed in as %s.\n", user.Email)
	a.StartAutoSync(ctx)
	return a.Sync(ctx)
}

// Logout drops the cloud session and stops auto-sync. Local alarms keep
// working offline.
func (a *App) Logout(ctx context.Context) error {
	a.engine.StopAutoSync()
	a.cloud.Logout()
	fmt.Println("Signed out.")
	return nil
}

// AddAlarm creates an alarm interactively.
func (a *App) AddAlarm(ctx context.Context) error {
	timeStr, err := GetSimpleText(a.reader, "Alarm time (HH:MM)", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	days, err := GetOptionalText(a.reader, "Days (mon,tue,... empty for every day)", "", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	name, err := GetSimpleText(a.reader, "Playlist name", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	uri, err := GetSimpleText(a.reader, "Playlist URI (spotify:playlist:...)", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	volumeStr, err := GetOptionalText(a.reader, "Volume 0-100 (default 80)", "80", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fadeStr, err := GetOptionalText(a.reader, "Fade-in minutes (0 for none)", "0", os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}

	volume, err := strconv.Atoi(volumeStr)
	if err != nil {
		fmt.Println("Volume must be a number.")
		return err
	}
	fadeMinutes, err := strconv.Atoi(fadeStr)
	if err != nil {
		fmt.Println("Fade-in minutes must be a number.")
		return err
	}

	na := alarm.Alarm{
		Time:          timeStr,
		PlaylistName:  name,
		PlaylistURI:   uri,
		Volume:        volume,
		FadeIn:        fadeMinutes > 0,
		FadeInMinutes: fadeMinutes,
		Active:        true,
	}
	if days != "" {
		for _, tag := range strings.Split(days, ",") {
			d, err := alarm.ParseWeekday(tag)
			if err != nil {
				fmt.Println(err.Error())
				return err
			}
			na.Days = append(na.Days, d)
		}
	}

	saved, err := a.store.Upsert(ctx, na)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("Alarm set for %s (%s).\n", saved.Time, describeDays(saved.Days))
	return nil
}

// List prints all alarms, numbered for use with toggle and delete.
func (a *App) List(ctx context.Context) error {
	alarms := a.store.List()
	if len(alarms) == 0 {
		fmt.Println("No alarms. Use 'add' to create one.")
		return nil
	}
	for i, al := range alarms {
		state := "off"
		if al.Active {
			state = "on"
		}
		fade := ""
		if al.FadeIn {
			fade = fmt.Sprintf(", fade %dm", al.FadeInMinutes)
		}
		fmt.Printf("%2d. [%s] %s %s  %s (vol %d%%%s)\n",
			i+1, state, al.Time, describeDays(al.Days), al.PlaylistName, al.Volume, fade)
	}
	return nil
}

// Toggle enables or disables the n-th alarm from the listing.
func (a *App) Toggle(ctx context.Context, arg string) error {
	al, err := a.alarmByIndex(arg)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	toggled, err := a.store.Toggle(ctx, al.ID)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if toggled.Active {
		fmt.Printf("Alarm %s enabled.\n", toggled.Time)
	} else {
		fmt.Printf("Alarm %s disabled.\n", toggled.Time)
	}
	return nil
}

// Delete removes the n-th alarm from the listing. The deletion propagates to
// other devices on the next sync.
func (a *App) Delete(ctx context.Context, arg string) error {
	al, err := a.alarmByIndex(arg)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if _, err := a.store.Remove(ctx, al.ID); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("Alarm %s deleted.\n", al.Time)
	return nil
}

// Sync runs one sync round-trip and reports the outcome.
func (a *App) Sync(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Not signed in. Use 'login' first.")
		return common.ErrUnauthorized
	}
	status, err := a.engine.TriggerSync(ctx)
	if err != nil {
		fmt.Println("Sync failed:", status.Message)
		return err
	}
	fmt.Printf("Synced %d alarms.\n", len(a.store.List()))
	for _, c := range status.LastConflicts {
		fmt.Printf("  conflict on alarm %s: kept the %s edit, dropped the %s one\n",
			c.Winner.Time, c.Winner.LastModified.Format("15:04:05"), c.Loser.LastModified.Format("15:04:05"))
	}
	return nil
}

// SyncStatus prints the engine state and the last sync outcome.
func (a *App) SyncStatus(ctx context.Context) error {
	st := a.engine.Status()
	fmt.Println("Sync state:", st.State)
	if st.Message != "" {
		fmt.Println("  last error:", st.Message)
	}
	if !st.LastSyncAt.IsZero() {
		fmt.Println("  last sync:", st.LastSyncAt.Format(time.RFC1123))
	}
	if n := len(st.LastConflicts); n > 0 {
		fmt.Printf("  %d conflict(s) resolved on the last sync\n", n)
	}
	return nil
}

// Devices lists the devices registered with the cloud account.
func (a *App) Devices(ctx context.Context) error {
	devices, err := a.cloud.GetDevices(ctx)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return nil
	}
	for _, d := range devices {
		last := "never"
		if !d.LastSyncAt.IsZero() {
			last = d.LastSyncAt.Format(time.RFC1123)
		}
		fmt.Printf("  %s (%s), last sync %s\n", d.Name, d.PlatformTag, last)
	}
	return nil
}

// History prints the most recent sync operations.
func (a *App) History(ctx context.Context) error {
	entries, err := a.cloud.GetSyncHistory(ctx)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync history yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %s  %-7s device %s, %d alarms, %d conflicts\n",
			e.SyncedAt.Format("2006-01-02 15:04"), e.Operation, e.DeviceID, e.AlarmCount, e.ConflictCount)
	}
	return nil
}

// alarmByIndex resolves a 1-based listing position into an alarm.
func (a *App) alarmByIndex(arg string) (alarm.Alarm, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return alarm.Alarm{}, fmt.Errorf("%q is not an alarm number", arg)
	}
	alarms := a.store.List()
	if n < 1 || n > len(alarms) {
		return alarm.Alarm{}, fmt.Errorf("no alarm %d, run 'list' first", n)
	}
	return alarms[n-1], nil
}

func describeDays(days []alarm.Weekday) string {
	if len(days) == 0 {
		return "every day"
	}
	tags := make([]string, len(days))
	for i, d := range days {
		tags[i] = string(d)
	}
	return strings.Join(tags, ",")
}
