package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/mapping"
	"github.com/zoeyai/belottracker/pkg/resolver"
)

type fakePage struct {
	mu    sync.Mutex
	snap  *Snapshot
	calls int
}

func (p *fakePage) set(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = s
}

func (p *fakePage) Snapshot(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.snap == nil {
		return &Snapshot{}, nil
	}
	cp := *p.snap
	return &cp, nil
}

type recorder struct {
	mu          sync.Mutex
	cards       [][]string
	roundEnds   int
	sessionEnds int
	debug       []DebugInfo
}

func (r *recorder) Cards(cards []card.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards = append(r.cards, card.IDs(cards))
}

func (r *recorder) RoundEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roundEnds++
}

func (r *recorder) SessionEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionEnds++
}

func (r *recorder) Debug(info DebugInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = append(r.debug, info)
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func tableWith(srcs ...string) *Snapshot {
	s := &Snapshot{RootFound: true, URL: "https://game.example/play"}
	for _, src := range srcs {
		s.Images = append(s.Images, Image{Src: src, Class: CardClass, Visible: true})
	}
	return s
}

func newTestSession(t *testing.T) (*Session, *fakePage, *recorder, *clock) {
	t.Helper()
	page := &fakePage{}
	rec := &recorder{}
	clk := &clock{t: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
	pipe := resolver.New(mapping.New(), nil, resolver.WithOCR(false))
	s := New(page, pipe, rec, WithClock(clk.now))
	return s, page, rec, clk
}

func TestScanReportsNewCardsOnce(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	page.set(tableWith("https://game.example/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))
	clk.advance(time.Second)

	page.set(tableWith("https://game.example/static/deck_1/5.png", "/static/deck_1/1.png"))
	require.NoError(t, s.ScanNow(ctx))

	assert.Equal(t, [][]string{{"DK"}, {"D9"}}, rec.cards)
	assert.ElementsMatch(t, []string{"D9", "DK"}, card.IDs(s.Reported()))
}

func TestScanDebounce(t *testing.T) {
	s, page, _, clk := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.ScanNow(ctx))
	clk.advance(100 * time.Millisecond)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, page.calls)

	clk.advance(200 * time.Millisecond)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 2, page.calls)
}

func TestOverlayEndsRoundAndPauses(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	page.set(tableWith("/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))
	clk.advance(time.Second)

	snap := tableWith("/static/deck_1/5.png")
	snap.OverlayVisible = true
	page.set(snap)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, rec.roundEnds)
	assert.True(t, s.Paused())
	assert.Empty(t, s.Reported())

	// 结算层持续可见只触发一次
	clk.advance(time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, rec.roundEnds)
	assert.Len(t, rec.cards, 1)

	clk.advance(time.Second)
	page.set(&Snapshot{RootFound: true})
	require.NoError(t, s.ScanNow(ctx))
	assert.False(t, s.Paused())

	clk.advance(time.Second)
	page.set(tableWith("/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, [][]string{{"DK"}, {"DK"}}, rec.cards)
}

func TestRootLostEndsSession(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	page.set(tableWith("/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))

	page.set(&Snapshot{})
	clk.advance(3 * time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 0, rec.sessionEnds)

	clk.advance(4 * time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, rec.sessionEnds)

	clk.advance(10 * time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, rec.sessionEnds, "会话结束只上报一次")
}

func TestIdleTableEndsSession(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	page.set(tableWith("/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))

	page.set(&Snapshot{RootFound: true})
	clk.advance(60 * time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 0, rec.sessionEnds)

	clk.advance(61 * time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Equal(t, 1, rec.sessionEnds)
	assert.Empty(t, s.Reported())
}

func TestDebugCarriesAsset(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	snap := &Snapshot{RootFound: true, URL: "https://game.example/play"}
	snap.Images = []Image{{Src: "/static/img/deck_3/7.webp", Class: CardClass}}
	page.set(snap)
	require.NoError(t, s.ScanNow(ctx))

	require.Len(t, rec.debug, 1)
	info := rec.debug[0]
	assert.True(t, info.SelectorFound)
	assert.False(t, info.HasCards)
	assert.Equal(t, []string{"/static/img/deck_3/7.webp"}, info.Tokens)
	assert.Equal(t, []string{"/static/img/deck_3/7.webp"}, info.Unmapped)
	require.NotNil(t, info.Asset)
	assert.Equal(t, "https://game.example", info.Asset.Origin)
	assert.Equal(t, "/static/img/deck_3/", info.Asset.BasePath)
	assert.Equal(t, "webp", info.Asset.Ext)

	// 诊断信息限频
	clk.advance(500 * time.Millisecond)
	require.NoError(t, s.ScanNow(ctx))
	assert.Len(t, rec.debug, 1)
}

func TestResetPausesUntilTableClears(t *testing.T) {
	s, page, rec, clk := newTestSession(t)
	ctx := context.Background()

	page.set(tableWith("/static/deck_1/5.png"))
	require.NoError(t, s.ScanNow(ctx))
	s.Reset(true)

	clk.advance(time.Second)
	require.NoError(t, s.ScanNow(ctx))
	assert.Len(t, rec.cards, 1)
	assert.True(t, s.Paused())

	s.Reset(false)
	assert.True(t, s.Paused(), "不暂停的重置不解除已有暂停")
}

func TestCardImagesPreference(t *testing.T) {
	snap := &Snapshot{RootFound: true, Images: []Image{
		{Src: "/avatar.png", Visible: true},
		{Src: "/static/cards/a.png", Visible: true},
	}}
	imgs := snap.CardImages()
	require.Len(t, imgs, 1)
	assert.Equal(t, "/static/cards/a.png", imgs[0].Src)

	snap.Images = append(snap.Images, Image{Src: "/x.png", Class: "foo " + CardClass})
	imgs = snap.CardImages()
	require.Len(t, imgs, 1)
	assert.Equal(t, "/x.png", imgs[0].Src)
	assert.False(t, snap.HasCards())

	snap.Images = []Image{{Src: "/avatar.png", Visible: true}}
	assert.Len(t, snap.CardImages(), 1)
	assert.True(t, snap.HasCards())

	snap.RootFound = false
	assert.Nil(t, snap.CardImages())
}

func TestRootAttrsAndNodes(t *testing.T) {
	s, page, rec, _ := newTestSession(t)
	snap := tableWith("/static/deck_1/5.png")
	snap.RootAttrs = map[string]string{"data-card": "deck_1/24.png"}
	snap.Nodes = []map[string]string{{"srcset": "/static/deck_1/1.png 1x, /static/deck_1/2.png 2x"}}
	page.set(snap)

	require.NoError(t, s.ScanNow(context.Background()))
	require.Len(t, rec.cards, 1)
	assert.Equal(t, []string{"SA", "DK", "D9", "D10"}, rec.cards[0])
}

func TestRunStopsOnCancel(t *testing.T) {
	page := &fakePage{}
	page.set(tableWith("/static/deck_1/5.png"))
	rec := &recorder{}
	pipe := resolver.New(mapping.New(), nil, resolver.WithOCR(false))
	p := DefaultPolicy()
	p.Interval = 10 * time.Millisecond
	p.Debounce = time.Millisecond
	s := New(page, pipe, rec, WithPolicy(p))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.cards) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run 未退出")
	}
}

func TestFilePage(t *testing.T) {
	dir := t.TempDir()
	page := NewFilePage(filepath.Join(dir, "page.json"))
	ctx := context.Background()

	snap, err := page.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.RootFound)

	want := tableWith("/static/deck_1/5.png")
	want.OverlayVisible = true
	require.NoError(t, page.Write(want))

	got, err := page.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFilePageWatch(t *testing.T) {
	dir := t.TempDir()
	page := NewFilePage(filepath.Join(dir, "page.json"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- page.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// 等待监听就绪后再写入
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, page.Write(tableWith("/static/deck_1/1.png")))
		select {
		case <-changed:
			cancel()
			assert.ErrorIs(t, <-done, context.Canceled)
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("未收到文件变化通知")
		}
	}
}
