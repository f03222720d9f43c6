// Package catalog は商品カタログのドメインロジックを提供する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
	"github.com/jugueteria/tienda/internal/security"
)

// ProductService は商品の公開一覧と管理者CRUDのサービス層。
// 管理者入力の説明文サニタイズと画像URL検証を統括する。
type ProductService struct {
	products  repository.ProductRepository
	sanitizer security.SanitizerService
	urlGuard  security.URLGuardService
	logger    *slog.Logger
}

// NewProductService はProductServiceの新しいインスタンスを生成する。
func NewProductService(
	products repository.ProductRepository,
	sanitizer security.SanitizerService,
	urlGuard security.URLGuardService,
	logger *slog.Logger,
) *ProductService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductService{
		products:  products,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
		logger:    logger,
	}
}

// ProductInput は商品の作成・更新の入力。
type ProductInput struct {
	Name        string
	Price       float64
	Category    string
	Description string
	ImageURL    string
	Stock       int
	Featured    bool
	Brand       string
}

// List は商品一覧を返す。searchTermが空でない場合、
// 名前・説明・カテゴリ・ブランドのいずれかに一致する商品のみ返す。
// フィルタはメモリ上で行い、大文字小文字は区別しない。
func (s *ProductService) List(ctx context.Context, searchTerm string) ([]*model.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}

	term := strings.TrimSpace(searchTerm)
	if term == "" {
		return products, nil
	}

	filtered := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if p.MatchesSearch(term) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Get は指定IDの商品を返す。存在しない場合はPRODUCT_NOT_FOUNDエラーを返す。
func (s *ProductService) Get(ctx context.Context, id string) (*model.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if product == nil {
		return nil, model.NewProductNotFoundError(id)
	}
	return product, nil
}

// Create は商品を新規作成する。入力検証・サニタイズ・画像URL検証を行う。
func (s *ProductService) Create(ctx context.Context, input ProductInput) (*model.Product, error) {
	sanitized, err := s.prepare(input)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	product := &model.Product{
		ID:          uuid.NewString(),
		Name:        sanitized.Name,
		Price:       sanitized.Price,
		Category:    sanitized.Category,
		Description: sanitized.Description,
		ImageURL:    sanitized.ImageURL,
		Stock:       sanitized.Stock,
		Featured:    sanitized.Featured,
		Brand:       sanitized.Brand,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("商品の作成に失敗しました: %w", err)
	}

	s.logger.Info("product created",
		slog.String("product_id", product.ID),
		slog.String("name", product.Name),
	)
	return product, nil
}

// Update は既存商品を上書き更新する。存在しない場合はPRODUCT_NOT_FOUNDエラーを返す。
func (s *ProductService) Update(ctx context.Context, id string, input ProductInput) (*model.Product, error) {
	existing, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewProductNotFoundError(id)
	}

	sanitized, err := s.prepare(input)
	if err != nil {
		return nil, err
	}

	existing.Name = sanitized.Name
	existing.Price = sanitized.Price
	existing.Category = sanitized.Category
	existing.Description = sanitized.Description
	existing.ImageURL = sanitized.ImageURL
	existing.Stock = sanitized.Stock
	existing.Featured = sanitized.Featured
	existing.Brand = sanitized.Brand
	existing.UpdatedAt = time.Now()

	if err := s.products.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("商品の更新に失敗しました: %w", err)
	}

	s.logger.Info("product updated",
		slog.String("product_id", existing.ID),
	)
	return existing, nil
}

// Delete は指定IDの商品を削除する。存在しない場合はPRODUCT_NOT_FOUNDエラーを返す。
func (s *ProductService) Delete(ctx context.Context, id string) error {
	existing, err := s.products.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewProductNotFoundError(id)
	}

	if err := s.products.Delete(ctx, id); err != nil {
		return fmt.Errorf("商品の削除に失敗しました: %w", err)
	}

	s.logger.Info("product deleted",
		slog.String("product_id", id),
	)
	return nil
}

// prepare は入力を検証し、サニタイズ済みの入力を返す。
func (s *ProductService) prepare(input ProductInput) (ProductInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Category = strings.TrimSpace(input.Category)
	input.Brand = strings.TrimSpace(input.Brand)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if input.Name == "" {
		return input, model.NewProductValidationError("商品名は必須です")
	}
	if input.Price <= 0 {
		return input, model.NewProductValidationError("価格は0より大きい値を指定してください")
	}
	if input.Stock < 0 {
		return input, model.NewProductValidationError("在庫数は0以上を指定してください")
	}

	if err := s.urlGuard.ValidateImageURL(input.ImageURL); err != nil {
		s.logger.Warn("image URL rejected",
			slog.String("url", input.ImageURL),
			slog.String("error", err.Error()),
		)
		return input, model.NewImageURLBlockedError()
	}

	input.Description = s.sanitizer.SanitizeDescription(input.Description)
	return input, nil
}
