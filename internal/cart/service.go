package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/catalog"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultGuestTTL     = 30 * 24 * time.Hour
	defaultMaxLockHours = 168
)

// Service exposes the cart state machine.
type Service interface {
	GetOrCreateCart(ctx context.Context, owner OwnerRef) (*models.Cart, error)
	GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	ViewCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int, owner OwnerRef) (*models.Cart, error)
	RemoveItem(ctx context.Context, itemID uuid.UUID, owner OwnerRef) (*models.Cart, error)
	Clear(ctx context.Context, cartID uuid.UUID, owner OwnerRef) (*models.Cart, error)
	MergeGuestIntoUser(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error)
	LockPrices(ctx context.Context, cartID uuid.UUID, durationHours int) (*models.Cart, error)
	CreateShareLink(ctx context.Context, cartID uuid.UUID) (string, error)
	ResolveByShareToken(ctx context.Context, token string) (*models.Cart, error)
	ReserveInventory(ctx context.Context, cartID uuid.UUID, durationMinutes int) (*models.Cart, error)
	ReleaseInventory(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	TrackAbandonment(ctx context.Context, cartID uuid.UUID, contact Contact) (*models.AbandonmentRecord, error)
	MarkConverted(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	Quote(ctx context.Context, cartID uuid.UUID) (*Quote, error)
}

// ServiceParams wires the cart service.
type ServiceParams struct {
	Repo         CartRepository
	Tx           txRunner
	Catalog      CatalogReader
	Records      AbandonmentRecorder
	Logger       *logger.Logger
	TaxRate      decimal.Decimal
	GuestTTL     time.Duration
	MaxLockHours int
	Now          func() time.Time
	NewToken     func() (string, error)
}

type service struct {
	repo         CartRepository
	tx           txRunner
	catalog      CatalogReader
	records      AbandonmentRecorder
	logg         *logger.Logger
	taxRate      decimal.Decimal
	guestTTL     time.Duration
	maxLockHours int
	now          func() time.Time
	newToken     func() (string, error)
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("abandonment recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TaxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must be non-negative")
	}
	guestTTL := params.GuestTTL
	if guestTTL <= 0 {
		guestTTL = defaultGuestTTL
	}
	maxLock := params.MaxLockHours
	if maxLock <= 0 {
		maxLock = defaultMaxLockHours
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	newToken := params.NewToken
	if newToken == nil {
		newToken = NewShareToken
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		catalog:      params.Catalog,
		records:      params.Records,
		logg:         params.Logger,
		taxRate:      params.TaxRate,
		guestTTL:     guestTTL,
		maxLockHours: maxLock,
		now:          now,
		newToken:     newToken,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// GetOrCreateCart returns the owner's active cart, creating it when absent.
func (s *service) GetOrCreateCart(ctx context.Context, owner OwnerRef) (*models.Cart, error) {
	if !owner.valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of user id or session id is required")
	}
	now := s.clock()

	cart, err := s.findActive(ctx, s.repo, owner)
	switch {
	case err == nil:
		if err := s.repo.Touch(ctx, cart.ID, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp cart activity")
		}
		cart.LastActivityAt = now
		return cart, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	cart = s.newCart(owner, now)
	if err := s.repo.Create(ctx, cart); err != nil {
		if db.IsUniqueViolation(err, "") {
			// lost a concurrent create for the same owner; return the winner
			winner, findErr := s.findActive(ctx, s.repo, owner)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload cart")
			}
			return winner, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"cart_id": cart.ID.String(),
		"guest":   owner.isGuest(),
	}), "cart.created")
	return cart, nil
}

func (s *service) newCart(owner OwnerRef, now time.Time) *models.Cart {
	cart := &models.Cart{
		ID:             uuid.New(),
		LastActivityAt: now,
		Items:          []models.CartItem{},
	}
	if owner.UserID != nil {
		id := *owner.UserID
		cart.UserID = &id
		return cart
	}
	session := strings.TrimSpace(*owner.SessionID)
	expires := now.Add(s.guestTTL)
	cart.SessionID = &session
	cart.ExpiresAt = &expires
	return cart
}

func (s *service) findActive(ctx context.Context, repo CartRepository, owner OwnerRef) (*models.Cart, error) {
	if owner.UserID != nil {
		return repo.FindActiveByUser(ctx, *owner.UserID)
	}
	return repo.FindActiveBySession(ctx, strings.TrimSpace(*owner.SessionID))
}

// GetCart loads a cart by id without ownership checks.
func (s *service) GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	return s.loadCart(ctx, s.repo, cartID)
}

// ViewCart is the shopper-facing read. Viewing an open cart counts as
// activity and stamps last_activity_at; the abandonment flag is left alone.
func (s *service) ViewCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if cart.ConvertedToOrder || cart.ExpiredAt != nil {
		return cart, nil
	}
	now := s.clock()
	if err := s.repo.Touch(ctx, cart.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp cart activity")
	}
	cart.LastActivityAt = now
	return cart, nil
}

// AddItem adds quantity units of a product line, summing into an existing line.
func (s *service) AddItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(cart); err != nil {
		return nil, err
	}

	product, variant, err := s.resolveLine(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	price := catalog.EffectivePrice(product, variant)
	lineKey := models.LineKey(productID, variantID)
	now := s.clock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindItemByLine(ctx, cartID, lineKey)
		switch {
		case err == nil:
			if err := repo.IncrementItem(ctx, existing.ID, quantity, price); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			item := &models.CartItem{
				CartID:     cartID,
				ProductID:  productID,
				VariantID:  variantID,
				LineKey:    lineKey,
				Quantity:   quantity,
				PriceCents: price,
			}
			if err := repo.CreateItem(ctx, item); err != nil {
				return err
			}
		default:
			return err
		}
		return s.afterMutation(ctx, repo, cart, now)
	})
	if err != nil {
		return nil, s.storeErr(err, "add item")
	}
	return s.loadCart(ctx, s.repo, cartID)
}

// UpdateItemQuantity sets an item's quantity; zero deletes the item.
func (s *service) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int, owner OwnerRef) (*models.Cart, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	item, cart, err := s.ownedItem(ctx, itemID, owner)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if quantity == 0 {
			if err := repo.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
		} else if err := repo.SetItemQuantity(ctx, item.ID, quantity); err != nil {
			return err
		}
		return s.afterMutation(ctx, repo, cart, now)
	})
	if err != nil {
		return nil, s.storeErr(err, "update item quantity")
	}
	return s.loadCart(ctx, s.repo, cart.ID)
}

// RemoveItem deletes one item from the caller's cart.
func (s *service) RemoveItem(ctx context.Context, itemID uuid.UUID, owner OwnerRef) (*models.Cart, error) {
	item, cart, err := s.ownedItem(ctx, itemID, owner)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return err
		}
		return s.afterMutation(ctx, repo, cart, now)
	})
	if err != nil {
		return nil, s.storeErr(err, "remove item")
	}
	return s.loadCart(ctx, s.repo, cart.ID)
}

// Clear deletes every item of the caller's cart.
func (s *service) Clear(ctx context.Context, cartID uuid.UUID, owner OwnerRef) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOwner(ctx, cart, owner, uuid.Nil); err != nil {
		return nil, err
	}
	if err := ensureMutable(cart); err != nil {
		return nil, err
	}
	now := s.clock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteItems(ctx, cart.ID); err != nil {
			return err
		}
		return s.afterMutation(ctx, repo, cart, now)
	})
	if err != nil {
		return nil, s.storeErr(err, "clear cart")
	}
	return s.loadCart(ctx, s.repo, cart.ID)
}

// MergeGuestIntoUser folds the guest session's cart into the user's cart in a
// single transaction. The guest cart is left empty.
func (s *service) MergeGuestIntoUser(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	guest, err := s.repo.FindActiveBySession(ctx, sessionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest cart")
	}
	if guest == nil || len(guest.Items) == 0 {
		return s.GetOrCreateCart(ctx, UserOwner(userID))
	}

	now := s.clock()
	var userCartID uuid.UUID
	merged, moved := 0, 0

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		userCart, err := repo.FindActiveByUser(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			userCart = s.newCart(UserOwner(userID), now)
			err = repo.Create(ctx, userCart)
		}
		if err != nil {
			return err
		}
		if !userCart.IsActive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "user cart is no longer mutable")
		}
		userCartID = userCart.ID

		guestItems, err := repo.ListItems(ctx, guest.ID)
		if err != nil {
			return err
		}
		for _, item := range guestItems {
			existing, err := repo.FindItemByLine(ctx, userCart.ID, item.LineKey)
			switch {
			case err == nil:
				if err := repo.IncrementItem(ctx, existing.ID, item.Quantity, existing.PriceCents); err != nil {
					return err
				}
				if err := repo.DeleteItem(ctx, item.ID); err != nil {
					return err
				}
				merged++
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := repo.MoveItem(ctx, item.ID, userCart.ID); err != nil {
					return err
				}
				moved++
			default:
				return err
			}
		}

		if err := s.recomputeTotals(ctx, repo, guest, now); err != nil {
			return err
		}
		return s.afterMutation(ctx, repo, userCart, now)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "concurrent cart merge, retry")
		}
		return nil, s.storeErr(err, "merge guest cart")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"cart_id":       userCartID.String(),
		"guest_cart_id": guest.ID.String(),
		"lines_merged":  merged,
		"lines_moved":   moved,
	}), "cart.merged")
	return s.loadCart(ctx, s.repo, userCartID)
}

// LockPrices snapshots each item's live effective price for durationHours.
func (s *service) LockPrices(ctx context.Context, cartID uuid.UUID, durationHours int) (*models.Cart, error) {
	if durationHours < 1 || durationHours > s.maxLockHours {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "duration hours must be between 1 and %d", s.maxLockHours)
	}
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(cart); err != nil {
		return nil, err
	}

	prices := make(map[uuid.UUID]int64, len(cart.Items))
	for _, item := range cart.Items {
		product, variant, err := s.resolveLine(ctx, item.ProductID, item.VariantID)
		if err != nil {
			return nil, err
		}
		prices[item.ID] = catalog.EffectivePrice(product, variant)
	}

	now := s.clock()
	until := now.Add(time.Duration(durationHours) * time.Hour)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for itemID, price := range prices {
			if err := repo.SetItemLockedPrice(ctx, itemID, price); err != nil {
				return err
			}
		}
		if err := repo.SetPriceLock(ctx, cart.ID, now, until); err != nil {
			return err
		}
		cart.LockedAt, cart.LockedUntil = &now, &until
		return s.recomputeTotals(ctx, repo, cart, now)
	})
	if err != nil {
		return nil, s.storeErr(err, "lock prices")
	}
	return s.loadCart(ctx, s.repo, cart.ID)
}

// CreateShareLink returns the cart's share token, generating one on first use.
func (s *service) CreateShareLink(ctx context.Context, cartID uuid.UUID) (string, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return "", err
	}
	if cart.ShareToken != nil && *cart.ShareToken != "" {
		return *cart.ShareToken, nil
	}

	token, err := s.newToken()
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate share token")
	}
	written, err := s.repo.SetShareToken(ctx, cart.ID, token)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist share token")
	}
	if !written {
		reloaded, err := s.loadCart(ctx, s.repo, cart.ID)
		if err != nil {
			return "", err
		}
		if reloaded.ShareToken == nil {
			return "", pkgerrors.New(pkgerrors.CodeInternal, "share token missing after concurrent write")
		}
		return *reloaded.ShareToken, nil
	}
	return token, nil
}

// ResolveByShareToken loads the cart a share link points to.
func (s *service) ResolveByShareToken(ctx context.Context, token string) (*models.Cart, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "share token is required")
	}
	cart, err := s.repo.FindByShareToken(ctx, token)
	if err != nil {
		return nil, s.storeErr(err, "shared cart")
	}
	return cart, nil
}

// ReserveInventory holds stock for every item or for none of them.
func (s *service) ReserveInventory(ctx context.Context, cartID uuid.UUID, durationMinutes int) (*models.Cart, error) {
	if durationMinutes < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration minutes must be at least 1")
	}
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(cart); err != nil {
		return nil, err
	}

	stock := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		if _, ok := stock[item.LineKey]; ok {
			continue
		}
		product, variant, err := s.lookupLine(ctx, item.ProductID, item.VariantID)
		if err != nil {
			return nil, err
		}
		stock[item.LineKey] = catalog.AvailableStock(product, variant)
	}

	now := s.clock()
	expiry := now.Add(time.Duration(durationMinutes) * time.Minute)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		items, err := repo.ListItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		var shortages []StockShortage
		for _, item := range items {
			held, err := repo.ReservedByOthers(ctx, cart.ID, item.ProductID, item.VariantID, now)
			if err != nil {
				return err
			}
			available := stock[item.LineKey] - held
			if available < 0 {
				available = 0
			}
			if item.Quantity > available {
				shortages = append(shortages, StockShortage{
					ItemID:    item.ID,
					ProductID: item.ProductID,
					VariantID: item.VariantID,
					Requested: item.Quantity,
					Available: available,
				})
			}
		}
		if len(shortages) > 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient stock to reserve cart").
				WithDetails(map[string]any{"items": shortages})
		}
		return repo.ReserveItems(ctx, cart.ID, now, expiry)
	})
	if err != nil {
		return nil, s.storeErr(err, "reserve inventory")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"cart_id":            cart.ID.String(),
		"reservation_expiry": expiry,
	}), "cart.inventory_reserved")
	return s.loadCart(ctx, s.repo, cart.ID)
}

// ReleaseInventory clears every reservation on the cart. Safe to repeat.
func (s *service) ReleaseInventory(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	if _, err := s.loadCart(ctx, s.repo, cartID); err != nil {
		return nil, err
	}
	if err := s.repo.ReleaseItems(ctx, cartID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
	}
	return s.loadCart(ctx, s.repo, cartID)
}

// TrackAbandonment captures shopper contact for recovery and flags the cart.
func (s *service) TrackAbandonment(ctx context.Context, cartID uuid.UUID, contact Contact) (*models.AbandonmentRecord, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if cart.ConvertedToOrder {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart already converted")
	}

	record, err := s.records.Upsert(ctx, &models.AbandonmentRecord{
		CartID:         cart.ID,
		Email:          optionalString(contact.Email),
		Phone:          optionalString(contact.Phone),
		CartValueCents: cart.TotalCents,
		ItemCount:      itemCount(cart.Items),
		IdleAt:         cart.LastActivityAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert abandonment record")
	}
	flagged, err := s.repo.MarkAbandoned(ctx, cart.ID, cart.LastActivityAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag cart abandoned")
	}
	if !flagged {
		// the shopper came back while the contact was captured; keep the record
		s.logg.Info(s.logg.WithField(ctx, "cart_id", cart.ID.String()), "cart.abandonment_flag_skipped")
	}
	return record, nil
}

// MarkConverted closes the cart as ordered and credits any recovery campaign.
func (s *service) MarkConverted(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		converted, err := repo.MarkConverted(ctx, cart.ID, now)
		if err != nil {
			return err
		}
		if !converted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already converted")
		}
		return repo.ReleaseItems(ctx, cart.ID)
	})
	if err != nil {
		return nil, s.storeErr(err, "convert cart")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"cart_id":     cart.ID.String(),
		"total_cents": cart.TotalCents,
	})
	if err := s.records.MarkRecovered(ctx, cart.ID, cart.TotalCents, now); err != nil {
		// the reminder processor re-credits recovery when it sees the converted cart
		s.logg.Error(logCtx, "failed to mark abandonment record recovered", err)
	}
	s.logg.Info(logCtx, "cart.converted")
	return s.loadCart(ctx, s.repo, cart.ID)
}

// Quote prices every line: locked price inside an active lock, else live price.
func (s *service) Quote(ctx context.Context, cartID uuid.UUID) (*Quote, error) {
	cart, err := s.loadCart(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	locked := cart.PriceLockActive(now)

	quote := &Quote{CartID: cart.ID, Lines: make([]QuoteLine, 0, len(cart.Items))}
	if locked {
		quote.LockedUntil = cart.LockedUntil
	}
	var subtotal int64
	for _, item := range cart.Items {
		line := QuoteLine{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Available: true,
		}
		if locked && item.LockedPriceCents != nil {
			line.UnitPriceCents = *item.LockedPriceCents
			line.PriceLocked = true
		} else {
			product, variant, err := s.resolveLine(ctx, item.ProductID, item.VariantID)
			switch {
			case err == nil:
				line.UnitPriceCents = catalog.EffectivePrice(product, variant)
			case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
				line.Available = false
			default:
				return nil, err
			}
		}
		if line.Available {
			line.LineTotalCents = line.UnitPriceCents * int64(line.Quantity)
			subtotal += line.LineTotalCents
		}
		quote.Lines = append(quote.Lines, line)
	}
	totals := computeTotals(subtotal, s.taxRate)
	quote.SubtotalCents = totals.SubtotalCents
	quote.TaxCents = totals.TaxCents
	quote.TotalCents = totals.TotalCents
	return quote, nil
}

func (s *service) loadCart(ctx context.Context, repo CartRepository, cartID uuid.UUID) (*models.Cart, error) {
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, s.storeErr(err, "cart")
	}
	return cart, nil
}

func (s *service) ownedItem(ctx context.Context, itemID uuid.UUID, owner OwnerRef) (*models.CartItem, *models.Cart, error) {
	if !owner.valid() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of user id or session id is required")
	}
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return nil, nil, s.storeErr(err, "cart item")
	}
	cart, err := s.loadCart(ctx, s.repo, item.CartID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureOwner(ctx, cart, owner, item.ID); err != nil {
		return nil, nil, err
	}
	if err := ensureMutable(cart); err != nil {
		return nil, nil, err
	}
	return item, cart, nil
}

func (s *service) ensureOwner(ctx context.Context, cart *models.Cart, owner OwnerRef, itemID uuid.UUID) error {
	if !owner.valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "exactly one of user id or session id is required")
	}
	if cart.OwnedBy(owner.UserID, owner.SessionID) {
		return nil
	}
	fields := map[string]any{
		"event":   "cart.ownership_violation",
		"cart_id": cart.ID.String(),
	}
	if itemID != uuid.Nil {
		fields["item_id"] = itemID.String()
	}
	if owner.UserID != nil {
		fields["caller_user_id"] = owner.UserID.String()
	} else {
		fields["caller_session"] = true
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "cart ownership check failed")
	return pkgerrors.New(pkgerrors.CodeForbidden, "cart does not belong to caller")
}

func ensureMutable(cart *models.Cart) error {
	if cart.ConvertedToOrder {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already converted to an order")
	}
	if cart.ExpiredAt != nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart has expired")
	}
	return nil
}

// afterMutation recomputes totals and records shopper activity.
func (s *service) afterMutation(ctx context.Context, repo CartRepository, cart *models.Cart, now time.Time) error {
	if err := s.recomputeTotals(ctx, repo, cart, now); err != nil {
		return err
	}
	return repo.MarkActivity(ctx, cart.ID, now)
}

func (s *service) recomputeTotals(ctx context.Context, repo CartRepository, cart *models.Cart, now time.Time) error {
	items, err := repo.ListItems(ctx, cart.ID)
	if err != nil {
		return err
	}
	return repo.UpdateTotals(ctx, cart.ID, cartTotals(cart, items, s.taxRate, now))
}

// resolveLine loads a sellable product line. Inactive products and variants
// that belong to another product count as missing.
func (s *service) resolveLine(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error) {
	product, variant, err := s.lookupLine(ctx, productID, variantID)
	if err != nil {
		return nil, nil, err
	}
	if !product.IsActive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return product, variant, nil
}

func (s *service) lookupLine(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error) {
	if productID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, s.storeErr(err, "product")
	}
	if variantID == nil {
		return product, nil, nil
	}
	variant, err := s.catalog.GetVariant(ctx, *variantID)
	if err != nil {
		return nil, nil, s.storeErr(err, "variant")
	}
	if variant.ProductID != product.ID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	}
	return product, variant, nil
}

// storeErr keeps typed errors, maps missing rows to NOT_FOUND and wraps the
// rest as dependency failures.
func (s *service) storeErr(err error, what string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, what)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func itemCount(items []models.CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}
