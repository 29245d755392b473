package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/EpicMandM/vsphere-group-manager/internal/config"
	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/machine"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
	"github.com/EpicMandM/vsphere-group-manager/internal/service"
	"github.com/EpicMandM/vsphere-group-manager/internal/store"
)

// App ties one vSphere session to one working group and its persistence.
type App struct {
	config   *config.Config
	features *config.FeatureConfig
	logger   *logger.Logger

	service  *service.VMwareService
	platform machine.Platform
	group    *orchestrator.Group
	store    store.Store

	// where the working group came from, for write-back
	groupFile  string
	groupSaved string
}

func New(cfg *config.Config, features *config.FeatureConfig, log *logger.Logger) *App {
	if features == nil {
		features = config.DefaultFeatureConfig()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &App{
		config:   cfg,
		features: features,
		logger:   log,
	}
}

// Initialize connects to vSphere and creates an empty group bound to the
// session.
func (a *App) Initialize(ctx context.Context) error {
	if a.config == nil {
		return fmt.Errorf("infrastructure config not loaded")
	}
	vmwareService, err := service.NewVMwareService(ctx, a.config, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to vSphere: %w", err)
	}
	a.service = vmwareService
	a.UsePlatform(vmwareService)
	return nil
}

// UsePlatform binds the app to an existing platform session.
func (a *App) UsePlatform(p machine.Platform) {
	a.platform = p
	a.group = orchestrator.New(p, a.logger, a.GroupOptions())
}

// GroupOptions derives group behaviour from the feature config.
func (a *App) GroupOptions() orchestrator.Options {
	return orchestrator.Options{
		PollInterval: a.features.PollInterval(),
		Machine: machine.Options{
			ShutdownOnMissingSnapshot: a.features.Snapshot.ShutdownOnMissing,
		},
	}
}

// About names the connected endpoint, or is empty without a session.
func (a *App) About() string {
	if a.service == nil {
		return ""
	}
	return a.service.About()
}

// Features returns the effective feature configuration.
func (a *App) Features() *config.FeatureConfig {
	return a.features
}

// Group returns the working group.
func (a *App) Group() (*orchestrator.Group, error) {
	if a.group == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return a.group, nil
}

// Inventory lists every VM, keeping only names containing grep when set.
func (a *App) Inventory(ctx context.Context, grep string) ([]models.VMDescriptor, error) {
	if a.platform == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	vms, err := a.platform.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	if grep == "" {
		return vms, nil
	}
	filtered := make([]models.VMDescriptor, 0, len(vms))
	for _, vm := range vms {
		if strings.Contains(vm.Name, grep) {
			filtered = append(filtered, vm)
		}
	}
	return filtered, nil
}

// LoadGroup fills the working group from a file or a comma separated list.
// A file source is remembered so membership changes can be written back.
func (a *App) LoadGroup(ctx context.Context, source string) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	names, err := store.LoadList(source)
	if err != nil {
		return err
	}
	if store.IsFile(source) {
		a.groupFile = source
	}
	a.logger.Info("Loading group", logger.Action("group_load"), logger.Path(source), logger.Count(len(names)))
	return g.Load(ctx, names)
}

// LoadSavedGroup fills the working group from the named group registry.
func (a *App) LoadSavedGroup(ctx context.Context, name string) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	s, err := a.openStore()
	if err != nil {
		return err
	}
	record, err := s.GetGroup(name)
	if err != nil {
		return err
	}
	a.groupSaved = name
	a.logger.Info("Loading saved group", logger.Action("group_load"), logger.Group(name), logger.Count(len(record.Members)))
	return g.Load(ctx, record.Members)
}

// SaveGroup writes the member names to a flat file.
func (a *App) SaveGroup(path string) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	if err := store.SaveList(path, g.Names()); err != nil {
		return err
	}
	a.logger.Info("Group saved", logger.Action("group_save"), logger.Path(path), logger.Count(g.Len()))
	return nil
}

// StoreGroup saves the members under name in the group registry.
func (a *App) StoreGroup(name string) (*models.GroupRecord, error) {
	g, err := a.Group()
	if err != nil {
		return nil, err
	}
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	record := &models.GroupRecord{Name: name, Members: g.Names()}
	if err := s.SaveGroup(record); err != nil {
		return nil, err
	}
	a.logger.Info("Group stored", logger.Action("group_store"), logger.Group(name), logger.Count(len(record.Members)), logger.F("ID", record.ID))
	return record, nil
}

// Persist writes membership changes back to wherever the group was loaded
// from. It is a no-op for inline lists.
func (a *App) Persist() error {
	if a.groupFile != "" {
		if err := a.SaveGroup(a.groupFile); err != nil {
			return err
		}
	}
	if a.groupSaved != "" {
		if _, err := a.StoreGroup(a.groupSaved); err != nil {
			return err
		}
	}
	return nil
}

// ListStoredGroups returns every registry entry.
func (a *App) ListStoredGroups() ([]*models.GroupRecord, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return s.ListGroups()
}

// DeleteStoredGroup removes a registry entry.
func (a *App) DeleteStoredGroup(name string) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	if err := s.DeleteGroup(name); err != nil {
		return err
	}
	a.logger.Info("Group deleted", logger.Action("group_delete"), logger.Group(name))
	return nil
}

func (a *App) openStore() (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.features.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open group store: %w", err)
	}
	a.store = s
	return s, nil
}

func (a *App) Close(ctx context.Context) error {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close group store", logger.Error(err))
		}
		a.store = nil
	}
	if a.service == nil {
		return nil
	}
	if err := a.service.Close(ctx); err != nil {
		return fmt.Errorf("failed to close VMware service: %w", err)
	}
	a.logger.Info("Disconnected from vSphere", logger.Action("disconnect"))
	return nil
}
