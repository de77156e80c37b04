package repository

import (
	"context"

	"estorage/internal/model"
)

// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.

// UploadRepository records accepted uploads using SQL queries only.
// No business logic here, only persistence.
type UploadRepository interface {
	// Create inserts a new upload record and returns the stored row.
	Create(ctx context.Context, u *model.Upload) (*model.Upload, error)

	// List returns a page of upload records, newest first, and the total
	// count for the given filter.
	List(ctx context.Context, q UploadQuery) (*PageResult[model.Upload], error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// UploadQuery filters upload history. An empty DBName matches every database.
type UploadQuery struct {
	PageQuery
	DBName string
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
