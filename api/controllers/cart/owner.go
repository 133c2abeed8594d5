package cart

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartrecovery-backend/api/middleware"
	cartsvc "github.com/angelmondragon/cartrecovery-backend/internal/cart"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

// ownerFromRequest prefers the authenticated user over the guest session.
func ownerFromRequest(r *http.Request) (cartsvc.OwnerRef, error) {
	ctx := r.Context()
	if raw := middleware.UserIDFromContext(ctx); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return cartsvc.OwnerRef{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
		}
		return cartsvc.UserOwner(userID), nil
	}
	if session := middleware.SessionIDFromContext(ctx); session != "" {
		return cartsvc.SessionOwner(session), nil
	}
	return cartsvc.OwnerRef{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token or session id required")
}

// authorizeCart loads the cart and checks that the caller owns it.
func authorizeCart(ctx context.Context, svc cartsvc.Service, logg *logger.Logger, cartID uuid.UUID, owner cartsvc.OwnerRef) (*models.Cart, error) {
	record, err := svc.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if record.OwnedBy(owner.UserID, owner.SessionID) {
		return record, nil
	}
	if logg != nil {
		fields := map[string]any{
			"event":   "cart.ownership_violation",
			"cart_id": cartID.String(),
		}
		if owner.UserID != nil {
			fields["caller_user_id"] = owner.UserID.String()
		} else {
			fields["caller_session"] = true
		}
		logg.Warn(logg.WithFields(ctx, fields), "cart ownership check failed")
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart does not belong to caller")
}
