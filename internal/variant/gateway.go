package variant

func gateway() *Variant {
	return &Variant{
		Name:           "gateway",
		AddPath:        "/api/cart/add/",
		UpdatePath:     "/api/cart/update/",
		RemovePath:     "/api/cart/remove/",
		CountPath:      "/api/cart/count/",
		TotalsPath:     "/api/cart/total/",
		LoginPath:      "/api/auth/login/",
		RegisterPath:   "/api/register/",
		LogoutPath:     "/api/auth/logout/",
		StatusPath:     "/api/auth/status/",
		SuggestPath:    "/api/search/suggestions/",
		PagePath:       "/carrito/",
		UpdateEncoding: JSON,
		LoginEncoding:  JSON,
		EmployeeRol:    "empleado",
		DashboardPath:  "/admin/dashboard/",
		CSRFCookie:     "csrftoken",
		CSRFField:      "csrfmiddlewaretoken",
		CSRFHeader:     "X-CSRFToken",
		BadgeIDs:       []string{"cart-counter", "cartBadge", "cartCounter"},
	}
}
