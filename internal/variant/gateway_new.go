package variant

func gatewayNew() *Variant {
	return &Variant{
		Name:              "gateway-new",
		AddPath:           "/api/cart/add/",
		UpdatePath:        "/tienda/carrito/agregar/{product_id}/",
		RemovePath:        "/api/cart/remove/",
		CountPath:         "/api/cart/count/",
		TotalsPath:        "/api/cart/total/",
		LoginPath:         "/accounts/login/",
		RegisterPath:      "/accounts/register/",
		LogoutPath:        "/api/auth/logout/",
		StatusPath:        "/api/auth/status/",
		SuggestPath:       "/api/search/suggestions/",
		WishlistPath:      "/tienda/wishlist/toggle/{product_id}/",
		PagePath:          "/tienda/carrito/",
		UpdateEncoding:    Form,
		LoginEncoding:     Form,
		BadgeFromMutation: true,
		CSRFCookie:        "csrftoken",
		CSRFField:         "csrfmiddlewaretoken",
		CSRFHeader:        "X-CSRFToken",
		CookieFirst:       true,
		BadgeIDs:          []string{"cart-badge"},
	}
}
