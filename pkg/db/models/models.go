package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// tests and sqlite dev mode.
func All() []any {
	return []any{
		&Product{},
		&ProductVariant{},
		&Shopper{},
		&Cart{},
		&CartItem{},
		&AbandonmentRecord{},
		&QueueJob{},
		&RecurringJob{},
	}
}
