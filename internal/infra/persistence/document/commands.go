package document

import (
	"context"
	"fmt"

	"dataspace/pkg/domain"

	"github.com/google/uuid"
)

// EntityMaker builds an empty entity instance for a type name. When nil,
// commands fall back to map-backed entities.
type EntityMaker func(typeName string) domain.PropertyBag

// CreateCommand materializes new tracked entities on a document session.
// The entity is attached as Added with a generated id, so the next persist
// inserts it.
type CreateCommand struct {
	maker EntityMaker
	newID func() string
}

// NewCreateCommand constructs the document create-entity command.
func NewCreateCommand(maker EntityMaker) *CreateCommand {
	if maker == nil {
		maker = func(typeName string) domain.PropertyBag {
			return domain.NewMapEntity(typeName, nil)
		}
	}
	return &CreateCommand{maker: maker, newID: uuid.NewString}
}

// Name identifies the command in dispatch diagnostics and logs.
func (c *CreateCommand) Name() string { return "document-create" }

// CreateEntity builds, identifies, and attaches a new entity.
func (c *CreateCommand) CreateEntity(_ context.Context, sess domain.Session, typeName string) (domain.PropertyBag, error) {
	entity := c.maker(typeName)
	if entity == nil {
		return nil, fmt.Errorf("no entity shape registered for %s", typeName)
	}
	entity.Set(domain.PropertyID, c.newID())
	if _, err := sess.Attach(entity, domain.StateAdded); err != nil {
		return nil, err
	}
	return entity, nil
}

// ExecCommand runs named read-side operations against the session's
// backend driver.
type ExecCommand struct{}

// NewExecCommand constructs the document execute command.
func NewExecCommand() *ExecCommand { return &ExecCommand{} }

// Name identifies the command in dispatch diagnostics and logs.
func (c *ExecCommand) Name() string { return "document-execute" }

// Execute dispatches on the operation name. Supported operations:
//
//	find_one  args: "type" (collection type name), "id"
//	exists    args: "type", "id"
func (c *ExecCommand) Execute(ctx context.Context, sess domain.Session, operation string, args map[string]any) (any, error) {
	dp, ok := sess.(DriverProvider)
	if !ok {
		return nil, domain.UnsupportedBackendError{Kind: "execute", Backend: fmt.Sprintf("%T", sess)}
	}
	typeName, _ := args["type"].(string)
	id, _ := args["id"].(string)
	switch operation {
	case "find_one":
		if typeName == "" || id == "" {
			return nil, fmt.Errorf("find_one requires type and id")
		}
		return sess.Load(ctx, typeName, id)
	case "exists":
		if typeName == "" || id == "" {
			return nil, fmt.Errorf("exists requires type and id")
		}
		_, found, err := dp.Driver().FindOne(ctx, typeName, id)
		return found, err
	}
	return nil, fmt.Errorf("unknown operation %s", operation)
}
