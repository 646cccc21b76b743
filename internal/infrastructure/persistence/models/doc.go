// Package models contains GORM persistence models that map to database tables.
// They are kept apart from domain entities so the domain stays free of ORM
// concerns; mappers on each model convert in both directions.
package models
