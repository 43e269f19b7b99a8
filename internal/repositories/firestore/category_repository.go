package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/digital-play/api/internal/domain"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

const categoryCollection = "categories"

// CategoryRepository persists product categories.
type CategoryRepository struct {
	base *pfirestore.BaseRepository[categoryDocument]
}

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection, nil, nil)
	return &CategoryRepository{base: base}, nil
}

// Insert creates the category document, failing when the ID already exists.
func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newCategoryDocument(category)); err != nil {
		return pfirestore.WrapError("categories.insert", err)
	}
	return nil
}

// Update rewrites an existing category document, preserving createdAt.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}

	updates := []firestore.Update{
		{Path: "slug", Value: strings.TrimSpace(category.Slug)},
		{Path: "name", Value: strings.TrimSpace(category.Name)},
		{Path: "description", Value: category.Description},
		{Path: "kind", Value: string(category.Kind)},
		{Path: "updatedAt", Value: category.UpdatedAt.UTC()},
	}
	if strings.TrimSpace(category.ImageURL) == "" {
		updates = append(updates, firestore.Update{Path: "imageUrl", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "imageUrl", Value: strings.TrimSpace(category.ImageURL)})
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return err
	}
	return nil
}

// Delete removes the category document.
func (r *CategoryRepository) Delete(ctx context.Context, categoryID string) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("categories.delete", err)
	}
	return nil
}

// FindByID loads one category by document ID.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return domain.Category{}, errors.New("category repository: category id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug loads one category by its unique slug.
func (r *CategoryRepository) FindBySlug(ctx context.Context, slug string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.Category{}, errors.New("category repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Category{}, err
	}
	if len(docs) == 0 {
		return domain.Category{}, pfirestore.WrapError("categories.findBySlug", status.Error(codes.NotFound, "category not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns every category ordered by name. The catalog is small enough
// that the listing is not paged.
func (r *CategoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("category repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	categories := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		categories = append(categories, doc.Data.toDomain(doc.ID))
	}
	return categories, nil
}

type categoryDocument struct {
	Slug        string    `firestore:"slug"`
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Kind        string    `firestore:"kind"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newCategoryDocument(category domain.Category) categoryDocument {
	return categoryDocument{
		Slug:        strings.TrimSpace(category.Slug),
		Name:        strings.TrimSpace(category.Name),
		Description: category.Description,
		Kind:        string(category.Kind),
		ImageURL:    strings.TrimSpace(category.ImageURL),
		CreatedAt:   category.CreatedAt.UTC(),
		UpdatedAt:   category.UpdatedAt.UTC(),
	}
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{
		ID:          id,
		Slug:        strings.TrimSpace(d.Slug),
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Kind:        domain.CategoryKind(strings.TrimSpace(d.Kind)),
		ImageURL:    strings.TrimSpace(d.ImageURL),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)
