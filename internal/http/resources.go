package http

import (
	"fmt"

	"github.com/geocoder89/aegisapi/internal/crud"
	"github.com/geocoder89/aegisapi/internal/domain/budget"
	"github.com/geocoder89/aegisapi/internal/domain/company"
	"github.com/geocoder89/aegisapi/internal/domain/contract"
	"github.com/geocoder89/aegisapi/internal/domain/drug"
	"github.com/geocoder89/aegisapi/internal/domain/inventory"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/gin-gonic/gin"
)

// Mounter registers an entity's routes on a group.
type Mounter interface {
	Mount(rg *gin.RouterGroup, guard func(action string) gin.HandlerFunc)
}

// Resource is one CRUD entity mounted under /api/<Path>.
type Resource struct {
	Path     string
	RBACName string
	Handler  Mounter
}

func resource[T crud.Entity, C crud.Input, U crud.Input](path string, s crud.Schema, db postgres.DBTX, prom *observability.Prom) (Resource, error) {
	if err := s.Validate(); err != nil {
		return Resource{}, err
	}
	repo := crud.NewRepository[T](db, s, prom)
	return Resource{
		Path:     path,
		RBACName: s.Resource,
		Handler:  crud.NewHandler[T, C, U](crud.NewService[T](repo, s)),
	}, nil
}

// CatalogueResources wires the five catalogue entities over db.
func CatalogueResources(db postgres.DBTX, prom *observability.Prom) ([]Resource, error) {
	builders := []func() (Resource, error){
		func() (Resource, error) {
			return resource[company.Company, company.CreateRequest, company.UpdateRequest]("companies", company.Schema, db, prom)
		},
		func() (Resource, error) {
			return resource[budget.Allocation, budget.CreateRequest, budget.UpdateRequest]("budget-allocations", budget.Schema, db, prom)
		},
		func() (Resource, error) {
			return resource[contract.Item, contract.CreateRequest, contract.UpdateRequest]("contract-items", contract.Schema, db, prom)
		},
		func() (Resource, error) {
			return resource[drug.PackRatio, drug.CreateRequest, drug.UpdateRequest]("drug-pack-ratios", drug.Schema, db, prom)
		},
		func() (Resource, error) {
			return resource[inventory.Item, inventory.CreateRequest, inventory.UpdateRequest]("inventory", inventory.Schema, db, prom)
		},
	}

	out := make([]Resource, 0, len(builders))
	for _, b := range builders {
		r, err := b()
		if err != nil {
			return nil, fmt.Errorf("catalogue resources: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
