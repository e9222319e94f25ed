// File: internal/service/components.go
package service

import (
	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/observability"
	"github.com/xkilldash9x/pacer/internal/partitioning"
	"github.com/xkilldash9x/pacer/internal/scheduler"
	"github.com/xkilldash9x/pacer/internal/store"
)

// Components holds everything the commands need, wired from configuration.
type Components struct {
	Controller *adapt.Controller
	// Pools, Stores and Indicators are keyed by logical database name.
	Pools      map[string]store.DBPool
	Stores     map[string]*store.Store
	Indicators map[string]adapt.Indicator
	Databases  []scheduler.Database
	Registry   *partitioning.Registry
	Manager    *partitioning.Manager
	Dropper    *partitioning.Dropper
	Scheduler  *scheduler.Scheduler

	closePools func()
}

// Database returns the scheduler binding for the named database.
func (c *Components) Database(name string) (scheduler.Database, bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return scheduler.Database{}, false
}

// Shutdown releases the connection pools.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	if c.closePools != nil {
		c.closePools()
		c.closePools = nil
	}
	logger.Debug("All components shut down.")
}
