package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/events"
	"github.com/commutetracker-core/internal/geo"
	"github.com/commutetracker-core/internal/replica"
)

// recordingPublisher captures emitted events for assertions.
type recordingPublisher struct {
	disambiguations []events.DisambiguationRequest
	completed       []events.TravelCompleted
	unauthorized    []events.SyncUnauthorized
}

func (p *recordingPublisher) PublishDisambiguation(r events.DisambiguationRequest) error {
	p.disambiguations = append(p.disambiguations, r)
	return nil
}

func (p *recordingPublisher) PublishTravelCompleted(e events.TravelCompleted) error {
	p.completed = append(p.completed, e)
	return nil
}

func (p *recordingPublisher) PublishSyncUnauthorized(e events.SyncUnauthorized) error {
	p.unauthorized = append(p.unauthorized, e)
	return nil
}

type fakeDistance struct {
	meters float64
	err    error
}

func (f fakeDistance) DistanceBetween(context.Context, *replica.Stop, *replica.Stop) (float64, error) {
	return f.meters, f.err
}

func testConfig() Config {
	return Config{
		UserID:            1,
		WatchedNames:      []string{"BusA"},
		ThresholdUpDBM:    -70,
		ThresholdDownDBM:  -75,
		MinDwell:          5 * time.Second,
		DepartureDebounce: 3 * time.Second,
	}
}

func newTestMachine(store replica.Store, clock *fakeClock, pub events.Publisher,
	dist DistanceLookup) *TravelStateMachine {
	tracker := NewCandidateTracker(clock.Now)
	resolver := NewStopResolver(store, nil, logger.Discard(), nil, 6)
	return NewTravelStateMachine(store, resolver, tracker, dist, pub,
		logger.Discard(), nil, testConfig(), clock.Now)
}

func TestBoardingOpensTravelAndAsksForLine(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(store, clock, pub, fakeDistance{})

	boardLoc := geo.Point{Lat: -37.81, Lon: 144.96}

	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), boardLoc, true)
	assert.False(t, m.Aboard(), "no travel before the dwell elapses")

	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), boardLoc, true)
	require.True(t, m.Aboard())

	open, err := store.OpenTravel(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "AA:BB:CC", open.VehicleMAC)
	assert.Nil(t, open.LineID)

	// Fresh stop with no known lines: the line choice goes to the user.
	require.Len(t, pub.disambiguations, 1)
	assert.Equal(t, open.ID, pub.disambiguations[0].TravelID)
	assert.Empty(t, pub.disambiguations[0].CandidateLineIDs)

	// The binding survives for restart recovery.
	b, err := store.Binding(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "AA:BB:CC", b.NetworkMAC)
}

func TestBoardingAtKnownSingleLineStopAssignsDirectly(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(store, clock, pub, fakeDistance{})

	loc := geo.Point{Lat: -37.81, Lon: 144.96}
	require.NoError(t, store.SaveStop(ctx, &replica.Stop{ID: 1, Lat: loc.Lat, Lon: loc.Lon}))
	require.NoError(t, store.SaveLine(ctx, &replica.Line{ID: 7, Name: "86"}))
	require.NoError(t, store.LinkLineStop(ctx, 7, 1))

	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	require.True(t, m.Aboard())

	open, err := store.OpenTravel(ctx)
	require.NoError(t, err)
	require.NotNil(t, open.LineID)
	assert.Equal(t, int64(7), *open.LineID)
	assert.Empty(t, pub.disambiguations)

	v, err := store.Vehicle(ctx, "AA:BB:CC")
	require.NoError(t, err)
	require.NotNil(t, v.LineID)
	assert.Equal(t, int64(7), *v.LineID)
}

func TestAssignLineLinksStopsAndVehicle(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(store, clock, pub, fakeDistance{})

	loc := geo.Point{Lat: -37.81, Lon: 144.96}
	require.NoError(t, store.SaveStop(ctx, &replica.Stop{ID: 1, Lat: loc.Lat, Lon: loc.Lon}))
	require.NoError(t, store.SaveLine(ctx, &replica.Line{ID: 7, Name: "86"}))
	require.NoError(t, store.SaveLine(ctx, &replica.Line{ID: 8, Name: "96"}))
	require.NoError(t, store.LinkLineStop(ctx, 7, 1))
	require.NoError(t, store.LinkLineStop(ctx, 8, 1))

	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)

	// Two candidate lines: travel stays line-less until the answer arrives.
	require.Len(t, pub.disambiguations, 1)
	assert.ElementsMatch(t, []int64{7, 8}, pub.disambiguations[0].CandidateLineIDs)

	travelID := pub.disambiguations[0].TravelID
	require.NoError(t, m.AssignLine(ctx, travelID, 7))

	travel, err := store.Travel(ctx, travelID)
	require.NoError(t, err)
	require.NotNil(t, travel.LineID)
	assert.Equal(t, int64(7), *travel.LineID)

	v, err := store.Vehicle(ctx, "AA:BB:CC")
	require.NoError(t, err)
	require.NotNil(t, v.LineID)
	assert.Equal(t, int64(7), *v.LineID)
	assert.False(t, v.Synced, "line propagation must mark the vehicle for push")
}

func TestAssignLineUnknownLineCreatesPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	m := newTestMachine(store, clock, &recordingPublisher{}, fakeDistance{})

	require.NoError(t, store.SaveStop(ctx, &replica.Stop{ID: 1}))
	v := &replica.Vehicle{MAC: "AA", LastRefresh: clock.Now()}
	opened, err := store.BeginTravel(ctx,
		&replica.Travel{UserID: 1, StartedAt: clock.Now(), VehicleMAC: "AA", StartStopID: 1}, v)
	require.NoError(t, err)

	require.NoError(t, m.AssignLine(ctx, opened.ID, 55))

	line, err := store.Line(ctx, 55)
	require.NoError(t, err)
	assert.False(t, line.Synced)
	assert.Contains(t, line.StopIDs, int64(1))
}

func TestDepartureClosesTravel(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(store, clock, pub, fakeDistance{meters: 4200})

	var syncRequested bool
	m.OnTravelCompleted = func() { syncRequested = true }

	boardLoc := geo.Point{Lat: -37.8100, Lon: 144.9600}
	alightLoc := geo.Point{Lat: -37.8300, Lon: 144.9800}

	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), boardLoc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), boardLoc, true)
	require.True(t, m.Aboard())

	// Ride for five minutes, then the signal drops.
	clock.Advance(5 * time.Minute)
	m.HandleScan(ctx, nil, alightLoc, true)
	assert.True(t, m.Aboard(), "debounce window still open")

	clock.Advance(4 * time.Second)
	m.HandleScan(ctx, nil, geo.Point{Lat: -37.84, Lon: 144.99}, true)
	assert.False(t, m.Aboard())

	require.Len(t, pub.completed, 1)
	travel, err := store.Travel(ctx, pub.completed[0].TravelID)
	require.NoError(t, err)
	assert.False(t, travel.Open())
	assert.Equal(t, float64(4200), travel.DistanceMeters)
	assert.GreaterOrEqual(t, travel.DurationSeconds, int64(300))

	// The alighting stop is resolved at the location captured when the
	// signal first dropped, not where the device ended up later.
	endStop, err := store.Stop(ctx, *travel.EndStopID)
	require.NoError(t, err)
	assert.InDelta(t, alightLoc.Lat, endStop.Lat, 1e-9)

	b, err := store.Binding(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.True(t, syncRequested)
}

func TestDepartureDistanceFailureClosesWithZero(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(store, clock, pub, fakeDistance{err: errors.New("routing down")})

	loc := geo.Point{Lat: -37.81, Lon: 144.96}
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	require.True(t, m.Aboard())

	m.HandleScan(ctx, nil, loc, true)
	clock.Advance(4 * time.Second)
	m.HandleScan(ctx, nil, loc, true)
	require.False(t, m.Aboard())

	require.Len(t, pub.completed, 1)
	travel, err := store.Travel(ctx, pub.completed[0].TravelID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), travel.DistanceMeters)
	assert.False(t, travel.Open(), "a distance outage must not keep the travel open")
}

func TestRestoreResumesOpenTravel(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}

	// First machine opens a travel, then the process "dies".
	first := newTestMachine(store, clock, pub, fakeDistance{})
	loc := geo.Point{Lat: -37.81, Lon: 144.96}
	first.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	clock.Advance(6 * time.Second)
	first.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	require.True(t, first.Aboard())

	second := newTestMachine(store, clock, pub, fakeDistance{})
	require.NoError(t, second.Restore(ctx))
	assert.True(t, second.Aboard(), "restart while aboard must resume the travel")

	// And the resumed machine can close it.
	second.HandleScan(ctx, nil, loc, true)
	clock.Advance(4 * time.Second)
	second.HandleScan(ctx, nil, loc, true)
	assert.False(t, second.Aboard())

	open, err := store.OpenTravel(ctx)
	require.NoError(t, err)
	assert.Nil(t, open, "no duplicate travel after restart")
}

// gatedStore pauses the first SaveTravel so the test can try to race a
// concurrent transition against the write-back.
type gatedStore struct {
	replica.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) SaveTravel(ctx context.Context, tr *replica.Travel) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Store.SaveTravel(ctx, tr)
}

func TestAssignLineDoesNotReopenClosingTravel(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	gated := &gatedStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clock := newFakeClock()
	pub := &recordingPublisher{}
	m := newTestMachine(gated, clock, pub, fakeDistance{})

	loc := geo.Point{Lat: -37.81, Lon: 144.96}
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "AA:BB:CC", -60), loc, true)
	require.True(t, m.Aboard())
	require.Len(t, pub.disambiguations, 1)
	travelID := pub.disambiguations[0].TravelID

	// The assignment reads the open travel, then stalls mid-write.
	assigned := make(chan error, 1)
	go func() { assigned <- m.AssignLine(ctx, travelID, 7) }()
	<-gated.entered

	// Meanwhile the signal drops and the debounce elapses. The close must
	// wait for the assignment instead of interleaving with it.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		m.HandleScan(ctx, nil, loc, true)
		clock.Advance(4 * time.Second)
		m.HandleScan(ctx, nil, loc, true)
	}()
	select {
	case <-closed:
		t.Fatal("travel closed while a line assignment was mid-write")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-assigned)
	<-closed

	travel, err := store.Travel(ctx, travelID)
	require.NoError(t, err)
	assert.False(t, travel.Open(), "closed travel must stay closed after a line assignment")
	require.NotNil(t, travel.LineID)
	assert.Equal(t, int64(7), *travel.LineID)
	assert.False(t, m.Aboard())

	// The next boarding must open cleanly.
	m.HandleScan(ctx, scanOf("BusA", "DD:EE:FF", -60), loc, true)
	clock.Advance(6 * time.Second)
	m.HandleScan(ctx, scanOf("BusA", "DD:EE:FF", -60), loc, true)
	assert.True(t, m.Aboard(), "a stale write-back must not block future travels")
}

func TestRestoreClearsStaleBinding(t *testing.T) {
	ctx := context.Background()
	store := replica.NewMemoryStore()
	clock := newFakeClock()

	require.NoError(t, store.SaveStop(ctx, &replica.Stop{ID: 1}))
	v := &replica.Vehicle{MAC: "AA", LastRefresh: clock.Now()}
	opened, err := store.BeginTravel(ctx,
		&replica.Travel{UserID: 1, StartedAt: clock.Now(), VehicleMAC: "AA", StartStopID: 1}, v)
	require.NoError(t, err)
	// Close the travel without going through CloseTravel, leaving the
	// binding behind as a crash would.
	end := int64(1)
	opened.EndStopID = &end
	require.NoError(t, store.SaveTravel(ctx, opened))

	m := newTestMachine(store, clock, &recordingPublisher{}, fakeDistance{})
	require.NoError(t, m.Restore(ctx))
	assert.False(t, m.Aboard(), "a binding pointing at a closed travel must be discarded")

	b, err := store.Binding(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
}
