package workflow

import (
	"context"

	"fieldscan/models"

	"go.uber.org/zap"
)

// SetLocation replaces the held coordinates. It is allowed at any time; a run
// in flight commits whatever is held when its result arrives.
func (o *Orchestrator) SetLocation(c models.Coordinates) error {
	if !c.Valid() {
		return ErrInvalidLocation
	}
	o.mu.Lock()
	o.loc = c
	o.notifyLocked()
	o.mu.Unlock()
	return nil
}

// Location returns the held coordinates.
func (o *Orchestrator) Location() models.Coordinates {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loc
}

// Locate asks loc for the platform location. Failures are logged and leave
// the held coordinates unchanged; either way the locating flag is cleared.
// A lookup already in progress makes this a no-op.
func (o *Orchestrator) Locate(ctx context.Context, loc Locator) models.Coordinates {
	o.mu.Lock()
	if o.locating || loc == nil {
		c := o.loc
		o.mu.Unlock()
		return c
	}
	o.locating = true
	o.notifyLocked()
	o.mu.Unlock()

	c, err := loc.Locate(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err != nil:
		o.log.Info("location lookup failed", zap.Error(err))
	case !c.Valid():
		o.log.Info("location lookup returned invalid coordinates",
			zap.Float64("lat", c.Lat), zap.Float64("lon", c.Lon))
	default:
		o.loc = c
	}
	o.locating = false
	o.notifyLocked()
	return o.loc
}
