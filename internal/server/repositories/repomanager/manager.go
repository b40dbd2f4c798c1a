// Package repomanager hands out repositories bound to a database handle, so
// services can run several repositories against one shared transaction.
package repomanager

import (
	"alarmify/internal/dbx"
	"alarmify/internal/server/repositories/alarms"
	"alarmify/internal/server/repositories/devices"
	"alarmify/internal/server/repositories/refreshtokens"
	"alarmify/internal/server/repositories/synchistory"
	"alarmify/internal/server/repositories/users"
)

// Manager builds repositories over a *sql.DB or *sql.Tx.
type Manager interface {
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Alarms(db dbx.DBTX) alarms.Repository
	Devices(db dbx.DBTX) devices.Repository
	SyncHistory(db dbx.DBTX) synchistory.Repository
}
