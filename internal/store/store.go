package store

import (
	"errors"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

// ErrGroupNotFound is returned when no group is stored under a name.
var ErrGroupNotFound = errors.New("group not found")

// Store defines the interface for named group persistence.
type Store interface {
	SaveGroup(group *models.GroupRecord) error
	GetGroup(name string) (*models.GroupRecord, error)
	ListGroups() ([]*models.GroupRecord, error)
	DeleteGroup(name string) error

	Close() error
}
