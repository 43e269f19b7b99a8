package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/digital-play/api/internal/domain"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog products. The stock field on the same
// document belongs to the inventory repository: Update never writes it.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert creates the product document, failing when the ID already exists.
// The initial stock counter is written here once; later catalog writes leave
// it to the inventory repository.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update rewrites the catalog fields of an existing product. Stock and
// createdAt are never part of the update set.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	updates := []firestore.Update{
		{Path: "slug", Value: strings.TrimSpace(product.Slug)},
		{Path: "name", Value: strings.TrimSpace(product.Name)},
		{Path: "description", Value: product.Description},
		{Path: "basePrice", Value: product.BasePrice},
		{Path: "categoryId", Value: strings.TrimSpace(product.CategoryID)},
		{Path: "isPhysical", Value: product.IsPhysical},
		{Path: "isFeatured", Value: product.IsFeatured},
		{Path: "updatedAt", Value: product.UpdatedAt.UTC()},
	}
	if strings.TrimSpace(product.ImageURL) == "" {
		updates = append(updates, firestore.Update{Path: "imageUrl", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "imageUrl", Value: strings.TrimSpace(product.ImageURL)})
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return err
	}
	return nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID loads one product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug loads one product by its unique slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.Product{}, errors.New("product repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", status.Error(codes.NotFound, "product not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List pages through products ordered by creation time, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productCollection).Query
	if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
		query = query.Where("categoryId", "==", categoryID)
	}
	if filter.Featured != nil {
		query = query.Where("isFeatured", "==", *filter.Featured)
	}
	if prefix := strings.TrimSpace(filter.Query); prefix != "" {
		// Firestore has no substring match; a prefix range on the name is the
		// closest server-side filter.
		query = query.Where("name", ">=", prefix).Where("name", "<", prefix+"").
			OrderBy("name", firestore.Asc)
	} else {
		query = query.OrderBy("createdAt", firestore.Desc)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCatalogPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		if strings.TrimSpace(filter.Query) != "" {
			query = query.StartAfter(decoded.Name, decoded.ID)
		} else {
			query = query.StartAfter(decoded.CreatedAt, decoded.ID)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeCatalogPageToken(catalogPageToken{ID: last.ID, Name: last.Name, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// CountByCategory counts products referencing the given category.
func (r *ProductRepository) CountByCategory(ctx context.Context, categoryID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("product repository not initialised")
	}
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return 0, errors.New("product repository: category id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("products.countByCategory", err)
	}

	iter := client.Collection(productCollection).
		Where("categoryId", "==", categoryID).
		Select().
		Documents(ctx)
	defer iter.Stop()

	var count int64
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("products.countByCategory", err)
		}
		count++
	}
	return count, nil
}

type productDocument struct {
	Slug        string    `firestore:"slug"`
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	BasePrice   int64     `firestore:"basePrice"`
	Stock       int64     `firestore:"stock"`
	CategoryID  string    `firestore:"categoryId"`
	IsPhysical  bool      `firestore:"isPhysical"`
	IsFeatured  bool      `firestore:"isFeatured"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		Slug:        strings.TrimSpace(product.Slug),
		Name:        strings.TrimSpace(product.Name),
		Description: product.Description,
		BasePrice:   product.BasePrice,
		Stock:       product.Stock,
		CategoryID:  strings.TrimSpace(product.CategoryID),
		IsPhysical:  product.IsPhysical,
		IsFeatured:  product.IsFeatured,
		ImageURL:    strings.TrimSpace(product.ImageURL),
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Slug:        strings.TrimSpace(d.Slug),
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		BasePrice:   d.BasePrice,
		Stock:       d.Stock,
		CategoryID:  strings.TrimSpace(d.CategoryID),
		IsPhysical:  d.IsPhysical,
		IsFeatured:  d.IsFeatured,
		ImageURL:    strings.TrimSpace(d.ImageURL),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type catalogPageToken struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func encodeCatalogPageToken(token catalogPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode catalog page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeCatalogPageToken(encoded string) (*catalogPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode catalog page token: %w", err)
	}
	var token catalogPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode catalog page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
