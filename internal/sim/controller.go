// Package sim runs the toy predator-prey simulation that feeds the
// snapshot history. All loop state lives in per-user Controller objects
// with explicit transitions; there is no package-level mutable state.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecosimlab/predictor/models"
)

// Initial populations for a fresh or reset simulation.
const (
	initialPlants     = 100
	initialHerbivores = 20
	initialCarnivores = 5

	minSpeed     = 1
	maxSpeed     = 10
	defaultSpeed = 1
)

// Status is a read-only view of a controller's state.
type Status struct {
	UserID  string          `json:"user_id"`
	Running bool            `json:"running"`
	Speed   int             `json:"speed"`
	Current models.Snapshot `json:"current"`
}

// Controller owns one user's simulation: the running/paused flag, the
// speed setting and the current populations. All transitions go through
// its methods under the mutex.
type Controller struct {
	mu      sync.Mutex
	userID  string
	running bool
	speed   int
	current models.Snapshot
	store   models.SnapshotWriter
	rand    *rand.Rand
	logger  zerolog.Logger

	loopOnce sync.Once
}

// NewController creates a paused controller with the initial populations.
func NewController(userID string, store models.SnapshotWriter, seed int64) *Controller {
	return &Controller{
		userID:  userID,
		speed:   defaultSpeed,
		current: initialSnapshot(),
		store:   store,
		rand:    rand.New(rand.NewSource(seed)),
		logger:  log.With().Str("component", "sim").Str("user_id", userID).Logger(),
	}
}

func initialSnapshot() models.Snapshot {
	return models.Snapshot{
		Step:       0,
		Plants:     initialPlants,
		Herbivores: initialHerbivores,
		Carnivores: initialCarnivores,
		Timestamp:  time.Now().UTC(),
	}
}

// Start resumes automatic stepping. The background loop is launched on the
// first start and reused afterwards.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	c.loopOnce.Do(func() {
		go c.run(ctx)
	})

	c.logger.Info().Msg("Simulation started")
}

// Pause suspends automatic stepping. Manual steps stay allowed.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.logger.Info().Msg("Simulation paused")
}

// Reset pauses the simulation and restores the initial populations.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.running = false
	c.current = initialSnapshot()
	c.mu.Unlock()

	c.logger.Info().Msg("Simulation reset")
}

// SetSpeed adjusts the automatic stepping rate, clamped to [1, 10].
func (c *Controller) SetSpeed(speed int) {
	if speed < minSpeed {
		speed = minSpeed
	}
	if speed > maxSpeed {
		speed = maxSpeed
	}

	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
}

// Status returns the controller's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		UserID:  c.userID,
		Running: c.running,
		Speed:   c.speed,
		Current: c.current,
	}
}

// Step advances the simulation one step and persists the new snapshot.
// Allowed while paused so users can single-step.
func (c *Controller) Step(ctx context.Context) (models.Snapshot, error) {
	c.mu.Lock()
	next := c.advance(c.current)
	c.current = next
	c.mu.Unlock()

	if err := c.store.SaveSnapshot(ctx, c.userID, next); err != nil {
		return models.Snapshot{}, err
	}
	return next, nil
}

// advance applies one tick of the toy population model. Plants regrow and
// get grazed, herbivores breed on grazing and get hunted, carnivores breed
// on hunting and starve without prey. Every count is clamped at zero.
// Caller holds the mutex.
func (c *Controller) advance(s models.Snapshot) models.Snapshot {
	grazing := min(s.Plants, s.Herbivores*2)
	hunting := min(s.Herbivores, s.Carnivores)

	regrowth := s.Plants/5 + 2 + c.rand.Intn(3)
	plants := clampZero(s.Plants + regrowth - grazing)

	herbivoreBirths := grazing / 4
	herbivores := clampZero(s.Herbivores + herbivoreBirths - hunting - s.Herbivores/20)

	carnivoreBirths := hunting / 3
	starvation := 0
	if hunting == 0 {
		starvation = 1 + s.Carnivores/4
	}
	carnivores := clampZero(s.Carnivores + carnivoreBirths - s.Carnivores/8 - starvation)

	return models.Snapshot{
		Step:       s.Step + 1,
		Plants:     plants,
		Herbivores: herbivores,
		Carnivores: carnivores,
		Timestamp:  time.Now().UTC(),
	}
}

// run is the automatic stepping loop. It ticks fast and steps only when
// running, at a rate derived from the speed setting.
func (c *Controller) run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	elapsed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			running, speed := c.running, c.speed
			c.mu.Unlock()

			if !running {
				elapsed = 0
				continue
			}

			// speed N steps once per (11-N) ticks.
			elapsed++
			if elapsed < maxSpeed+1-speed {
				continue
			}
			elapsed = 0

			if _, err := c.Step(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Simulation step failed")
			}
		}
	}
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Registry hands out one controller per user.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	store       models.SnapshotWriter
}

// NewRegistry creates an empty controller registry.
func NewRegistry(store models.SnapshotWriter) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		store:       store,
	}
}

// Get returns the user's controller, creating a paused one on first use.
func (r *Registry) Get(userID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[userID]
	if !ok {
		c = NewController(userID, r.store, time.Now().UnixNano())
		r.controllers[userID] = c
	}
	return c
}
