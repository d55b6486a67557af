package store

// Relationship defines a parent-child relationship for cascade operations.
type Relationship struct {
	// Parent is the owning collection (e.g. Users).
	Parent Collection

	// Child is the dependent collection (e.g. Courses).
	Child Collection

	// ForeignKey is the attribute in the child that references the parent
	// (e.g. "userId"). Cascades find children by it through ForeignKeyer.
	// It is also declared as an index on the child.
	ForeignKey string
}

// Registry holds all known entity relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[Collection][]Relationship
	byChild       map[Collection]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[Collection][]Relationship),
		byChild:       make(map[Collection]Relationship),
	}
}

// DefaultRegistry returns the Users → Courses → Lessons hierarchy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Relationship{Parent: Users, Child: Courses, ForeignKey: "userId"})
	r.Register(Relationship{Parent: Courses, Child: Lessons, ForeignKey: "courseId"})
	return r
}

// Register adds a relationship to the registry. A child has at most one
// parent; registering a second parent for it replaces the lookup by child.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.Parent] = append(r.byParent[rel.Parent], rel)
	r.byChild[rel.Child] = rel
}

// ChildrenOf returns all child relationships for a given parent collection.
func (r *Registry) ChildrenOf(parent Collection) []Relationship {
	return r.byParent[parent]
}

// ParentOf returns the relationship in which child is the dependent side.
func (r *Registry) ParentOf(child Collection) (Relationship, bool) {
	rel, ok := r.byChild[child]
	return rel, ok
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent collection has any registered child relationships.
func (r *Registry) HasChildren(parent Collection) bool {
	return len(r.byParent[parent]) > 0
}
