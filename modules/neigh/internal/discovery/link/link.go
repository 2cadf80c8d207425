package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/modules/neigh/internal/discovery"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

var errSubscriptionClosed = errors.New("netlink subscription closed")

// Link is a network device as seen by the neighbour daemon.
type Link struct {
	Index int
	Name  string
	MAC   neigh.MAC
	// Up reports whether the link is operationally up.
	Up bool
	// Prefixes are the addresses assigned to the link, in the kernel order.
	Prefixes []netip.Prefix
}

// Equal reports whether both links are described identically.
func (m Link) Equal(other Link) bool {
	return m.Index == other.Index &&
		m.Name == other.Name &&
		m.MAC == other.MAC &&
		m.Up == other.Up &&
		slices.Equal(m.Prefixes, other.Prefixes)
}

// LinksCache is a cache of links keyed by interface index.
type LinksCache = discovery.Cache[int, Link]

// LinksCacheView is a read-only view of the links cache.
type LinksCacheView = discovery.CacheView[int, Link]

// Handle is the part of a netlink handle the monitor lists links with.
type Handle interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// Subscriber subscribes to link and address changes. The returned channel
// receives a value on every change and is closed when the subscription
// breaks.
type Subscriber func(done <-chan struct{}) (<-chan struct{}, error)

// Option is a function that configures the link monitor.
type Option func(*options)

// WithLog configures the link monitor with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithHandle configures the netlink handle used to list links.
func WithHandle(handle Handle) Option {
	return func(o *options) {
		o.Handle = handle
	}
}

// WithSubscriber overrides how change notifications are received.
func WithSubscriber(subscriber Subscriber) Option {
	return func(o *options) {
		o.Subscriber = subscriber
	}
}

// WithOnUpdate configures a callback invoked with every new links view.
func WithOnUpdate(fn func(LinksCacheView)) Option {
	return func(o *options) {
		o.OnUpdate = fn
	}
}

// WithRetryInterval configures the initial delay before resubscribing
// after a broken subscription.
func WithRetryInterval(interval time.Duration) Option {
	return func(o *options) {
		o.RetryInterval = interval
	}
}

type options struct {
	Log           *zap.SugaredLogger
	Handle        Handle
	Subscriber    Subscriber
	OnUpdate      func(LinksCacheView)
	RetryInterval time.Duration
}

func newOptions() *options {
	return &options{
		Log:           zap.NewNop().Sugar(),
		Handle:        &netlink.Handle{},
		OnUpdate:      func(LinksCacheView) {},
		RetryInterval: backoff.DefaultInitialInterval,
	}
}

// LinkMonitor keeps the links cache in sync with the kernel.
type LinkMonitor struct {
	cache         *LinksCache
	handle        Handle
	subscribe     Subscriber
	onUpdate      func(LinksCacheView)
	retryInterval time.Duration
	log           *zap.SugaredLogger
}

// NewLinkMonitor creates a new link monitor and populates the cache.
func NewLinkMonitor(cache *LinksCache, options ...Option) (*LinkMonitor, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &LinkMonitor{
		cache:         cache,
		handle:        opts.Handle,
		subscribe:     opts.Subscriber,
		onUpdate:      opts.OnUpdate,
		retryInterval: opts.RetryInterval,
		log:           opts.Log,
	}
	if m.subscribe == nil {
		m.subscribe = m.netlinkSubscriber
	}

	if err := m.update(); err != nil {
		return nil, err
	}
	return m, nil
}

// Run runs the link monitor until the specified context is canceled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.log.Debugw("starting links monitor")
	defer m.log.Debugw("stopped links monitor")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.runSubscription(ctx)
	})

	return wg.Wait()
}

func (m *LinkMonitor) runSubscription(ctx context.Context) error {
	retry := backoff.ExponentialBackOff{
		InitialInterval:     m.retryInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	}
	retry.Reset()

	for {
		err := m.subscribeAndWatch(ctx, retry.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := retry.NextBackOff()
		m.log.Warnw("links subscription broken, resubscribing",
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *LinkMonitor) subscribeAndWatch(ctx context.Context, onSubscribed func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, err := m.subscribe(ctx.Done())
	if err != nil {
		return fmt.Errorf("failed to subscribe to links updates: %w", err)
	}
	onSubscribed()

	// Changes made while unsubscribed would be lost otherwise.
	if err := m.update(); err != nil {
		m.log.Warnw("failed to process link update", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return errSubscriptionClosed
			}
			if err := m.update(); err != nil {
				m.log.Warnw("failed to process link update", zap.Error(err))
			}
		}
	}
}

func (m *LinkMonitor) update() error {
	links, err := m.handle.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	cache := map[int]Link{}
	for _, link := range links {
		attrs := link.Attrs()

		addrs, err := m.handle.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return fmt.Errorf("failed to list addresses of %q: %w", attrs.Name, err)
		}

		mac, _ := neigh.MACFromSlice(attrs.HardwareAddr)
		cache[attrs.Index] = Link{
			Index:    attrs.Index,
			Name:     attrs.Name,
			MAC:      mac,
			Up:       isUp(attrs),
			Prefixes: prefixes(addrs),
		}
	}

	view := m.cache.Swap(cache)
	m.log.Debugw("updated links cache", zap.Int("links", len(cache)), zap.Uint64("version", view.Version()))

	m.onUpdate(view)
	return nil
}

func isUp(attrs *netlink.LinkAttrs) bool {
	switch attrs.OperState {
	case netlink.OperUp:
		return true
	case netlink.OperUnknown:
		// Virtual devices without carrier report unknown.
		return attrs.Flags&net.FlagUp != 0
	default:
		return false
	}
}

func prefixes(addrs []netlink.Addr) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}

		ip, ok := netip.AddrFromSlice(addr.IP)
		if !ok {
			continue
		}
		ones, _ := addr.Mask.Size()
		out = append(out, netip.PrefixFrom(ip.Unmap(), ones))
	}
	return out
}

// netlinkSubscriber subscribes to kernel link and address notifications.
func (m *LinkMonitor) netlinkSubscriber(done <-chan struct{}) (<-chan struct{}, error) {
	onError := func(err error) {
		m.log.Warnw("netlink subscription error", zap.Error(err))
	}

	links := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribeWithOptions(links, done, netlink.LinkSubscribeOptions{ErrorCallback: onError}); err != nil {
		return nil, err
	}
	addrs := make(chan netlink.AddrUpdate, 16)
	if err := netlink.AddrSubscribeWithOptions(addrs, done, netlink.AddrSubscribeOptions{ErrorCallback: onError}); err != nil {
		return nil, err
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)

		for {
			var ok bool
			select {
			case <-done:
				return
			case _, ok = <-links:
			case _, ok = <-addrs:
			}
			if !ok {
				return
			}

			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	return changes, nil
}
