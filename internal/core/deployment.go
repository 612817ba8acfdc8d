package core

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DeploymentKey pairs a class name with the alias it was deployed
// under, the unit that undeploy/event-recording iterates over
// (spec.md §3 Deployment, §4.5).
type DeploymentKey struct {
	Class string
	Alias string
}

// Deployment is a (classloader, classloader-id, user-version, classes,
// aliases) record enabling peer-class-loading (spec.md §3/§6
// glossary). ClassLoaderID stands in for the classloader identity
// itself: this module never runs untrusted bytecode, so the loader is
// represented as an opaque id plus the metadata needed to route
// lookups, not an actual loader object.
type Deployment struct {
	ClassLoaderID    uuid.UUID
	UserVersion      string
	PrimaryClassName string
	Mode             DeploymentMode
	IsTask           bool

	mu        sync.Mutex
	alive     bool
	keys      []DeploymentKey
}

func newDeployment(loaderID uuid.UUID, className, userVersion string, mode DeploymentMode, isTask bool) *Deployment {
	return &Deployment{
		ClassLoaderID:    loaderID,
		UserVersion:      userVersion,
		PrimaryClassName: className,
		Mode:             mode,
		IsTask:           isTask,
		alive:            true,
	}
}

// Alive reports whether the deployment has not yet been undeployed.
func (d *Deployment) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alive
}

// Keys returns the (class, alias) pairs currently registered against
// this deployment.
func (d *Deployment) Keys() []DeploymentKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeploymentKey, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Deployment) addKey(k DeploymentKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.keys {
		if existing == k {
			return
		}
	}
	d.keys = append(d.keys, k)
}

func (d *Deployment) markUndeployed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alive = false
}

// ResourceReleaser is called exactly once per Deployment that becomes
// obsolete after undeploy — the SPI callback, marshaller caches,
// annotation/classloader caches and serialization caches named in
// spec.md §4.5.
type ResourceReleaser interface {
	ReleaseResources(dep *Deployment)
}

// ResourceReleaserFunc adapts a function to a ResourceReleaser.
type ResourceReleaserFunc func(dep *Deployment)

func (f ResourceReleaserFunc) ReleaseResources(dep *Deployment) { f(dep) }

// ClassSource loads a class by alias when the store needs to
// auto-deploy one that neither the local alias index nor the
// registered-resource SPI already knows about (spec.md §4.5
// getDeployment auto-deploy path, replacing Java reflective
// classloading with a pluggable function).
type ClassSource interface {
	LoadClass(alias string) (className string, loaderID uuid.UUID, err error)
}

// DeploymentStore maintains the concurrent alias → stack-of-Deployment
// multimap described in spec.md §4.5.
type DeploymentStore struct {
	mu    sync.Mutex
	stack map[string][]*Deployment // alias -> deque, head = most recent

	userVersion string
	source      ClassSource
	releaser    ResourceReleaser
	listeners   *ListenerBus
	flights     singleflight.Group
	log         *slog.Logger
}

// NewDeploymentStore returns an empty DeploymentStore. source may be
// nil, in which case getDeployment never auto-deploys.
func NewDeploymentStore(userVersion string, source ClassSource, releaser ResourceReleaser, listeners *ListenerBus) *DeploymentStore {
	return &DeploymentStore{
		stack:       make(map[string][]*Deployment),
		userVersion: userVersion,
		source:      source,
		releaser:    releaser,
		listeners:   listeners,
		log:         slog.Default().With("component", "deployment-store"),
	}
}

// AliveCount returns the number of distinct alive Deployments
// currently reachable through the alias index.
func (s *DeploymentStore) AliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	for _, stack := range s.stack {
		for _, dep := range stack {
			if dep.Alive() {
				seen[dep.ClassLoaderID] = struct{}{}
			}
		}
	}
	return len(seen)
}

// GetDeployment resolves alias to its live Deployment, auto-deploying
// via the configured ClassSource when nothing is registered yet
// (spec.md §4.5). isPeerLoader must be true when the caller's own
// classloader is itself a peer-deployment loader; auto-deploy is
// never attempted in that case, to avoid nested peer-loading loops.
func (s *DeploymentStore) GetDeployment(alias string, isPeerLoader bool) (*Deployment, error) {
	s.mu.Lock()
	if dep := s.headLocked(alias); dep != nil {
		s.mu.Unlock()
		return dep, nil
	}
	s.mu.Unlock()

	if isPeerLoader || s.source == nil {
		return nil, &ErrClassNotFound{Alias: alias}
	}

	v, err, _ := s.flights.Do(alias, func() (any, error) {
		s.mu.Lock()
		if dep := s.headLocked(alias); dep != nil {
			s.mu.Unlock()
			return dep, nil
		}
		s.mu.Unlock()

		className, loaderID, err := s.source.LoadClass(alias)
		if err != nil {
			return nil, &ErrClassNotFound{Alias: alias}
		}
		return s.deploy(DeploymentModePrivate, loaderID, className, alias, false, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Deployment), nil
}

func (s *DeploymentStore) headLocked(alias string) *Deployment {
	stack := s.stack[alias]
	if len(stack) == 0 {
		return nil
	}
	head := stack[0]
	if head.Alive() {
		return head
	}
	return nil
}

// Deploy registers className under alias with the given loaderID
// (spec.md §4.5 deploy). If loaderID already has a live deployment
// under a different alias, the new alias is indexed against the same
// Deployment instance (spec.md §3 "two aliases pointing to the same
// classloader share the same Deployment instance"). A conflicting
// live deployment under a different loaderID for the same alias is
// rejected.
func (s *DeploymentStore) Deploy(mode SegmentationIgnoredModeAlias, loaderID uuid.UUID, className, alias string, isTask, recordEvent bool) (*Deployment, error) {
	return s.deploy(DeploymentMode(mode), loaderID, className, alias, isTask, recordEvent)
}

func (s *DeploymentStore) deploy(mode DeploymentMode, loaderID uuid.UUID, className, alias string, isTask, recordEvent bool) (*Deployment, error) {
	s.mu.Lock()

	if head := s.headLocked(alias); head != nil && head.ClassLoaderID != loaderID {
		s.mu.Unlock()
		s.log.Warn("deployment conflict", "alias", alias, "existing_loader", head.ClassLoaderID, "new_loader", loaderID)
		return nil, &ErrDeploymentConflict{Alias: alias}
	}

	dep := s.findByLoaderLocked(loaderID)
	if dep == nil {
		dep = newDeployment(loaderID, className, s.userVersion, mode, isTask)
	}
	dep.addKey(DeploymentKey{Class: className, Alias: alias})

	s.pushLocked(alias, dep)
	if alias != className {
		s.pushLocked(className, dep)
	}
	s.mu.Unlock()

	if recordEvent && !isSystemClass(className) {
		s.log.Info("deployed", "class", className, "alias", alias, "loader", loaderID)
	}
	if recordEvent {
		s.dispatchDeployEvent(dep, className, alias)
	}

	return dep, nil
}

// findByLoaderLocked scans every alias deque for a live Deployment
// owned by loaderID. Called with s.mu held.
func (s *DeploymentStore) findByLoaderLocked(loaderID uuid.UUID) *Deployment {
	for _, stack := range s.stack {
		for _, dep := range stack {
			if dep.ClassLoaderID == loaderID && dep.Alive() {
				return dep
			}
		}
	}
	return nil
}

// pushLocked pushes dep to the head of alias's deque. Called with
// s.mu held.
func (s *DeploymentStore) pushLocked(alias string, dep *Deployment) {
	stack := s.stack[alias]
	for _, existing := range stack {
		if existing == dep {
			return
		}
	}
	s.stack[alias] = append([]*Deployment{dep}, stack...)
}

// Undeploy marks every Deployment owned by loaderID as undeployed,
// removes it from every alias deque, and releases resources for
// Deployments that became obsolete (spec.md §4.5 undeploy).
func (s *DeploymentStore) Undeploy(loaderID uuid.UUID) {
	s.mu.Lock()
	var obsolete []*Deployment
	for alias, stack := range s.stack {
		kept := stack[:0:0]
		for _, dep := range stack {
			if dep.ClassLoaderID == loaderID {
				dep.markUndeployed()
				obsolete = append(obsolete, dep)
				continue
			}
			kept = append(kept, dep)
		}
		if len(kept) == 0 {
			delete(s.stack, alias)
		} else {
			s.stack[alias] = kept
		}
	}
	s.mu.Unlock()

	seen := make(map[*Deployment]bool, len(obsolete))
	for _, dep := range obsolete {
		if seen[dep] {
			continue
		}
		seen[dep] = true

		if s.releaser != nil {
			s.releaser.ReleaseResources(dep)
		}
		for _, k := range dep.Keys() {
			s.dispatchUndeployEvent(dep, k.Class, k.Alias)
		}
	}
}

// ExplicitDeploy binds an explicit deploy call to its true origin: if
// ldr is itself a peer-deployment loader, the parent loader is
// substituted so the deployment is attributed to real origin code
// rather than to the transient peer loader (spec.md §4.5).
func (s *DeploymentStore) ExplicitDeploy(className string, loaderID, parentLoaderID uuid.UUID, isPeerLoader bool, mode DeploymentMode, isTask bool) (*Deployment, error) {
	effective := loaderID
	if isPeerLoader {
		effective = parentLoaderID
	}
	return s.deploy(mode, effective, className, className, isTask, true)
}

func (s *DeploymentStore) dispatchDeployEvent(dep *Deployment, className, alias string) {
	t := EventClassDeployed
	if dep.IsTask {
		t = EventTaskDeployed
	}
	if s.listeners != nil {
		s.listeners.Dispatch(Event{Type: t, ClassName: className, Alias: alias, DeployMode: dep.Mode})
	}
}

func (s *DeploymentStore) dispatchUndeployEvent(dep *Deployment, className, alias string) {
	t := EventClassUndeployed
	if dep.IsTask {
		t = EventTaskUndeployed
	}
	if s.listeners != nil {
		s.listeners.Dispatch(Event{Type: t, ClassName: className, Alias: alias, DeployMode: dep.Mode})
	}
}

// SegmentationIgnoredModeAlias exists only so Deploy's signature reads
// naturally at call sites; it is always DeploymentMode underneath.
type SegmentationIgnoredModeAlias = DeploymentMode

// isSystemClass reports whether className belongs to the standard
// library or this module's own internal packages, which are deployed
// but not info-logged (spec.md §4.5 event taxonomy).
func isSystemClass(className string) bool {
	return strings.HasPrefix(className, "internal/") || strings.HasPrefix(className, "runtime.") || strings.HasPrefix(className, "std/")
}
