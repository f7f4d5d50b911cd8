package normalize

import (
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/models"
)

// Candidate keys per field, in priority order
var (
	idKeys = []string{"id", "_id", "uuid"}

	productIDKeys          = []string{"id", "_id", "productId", "product_id", "idProducto"}
	productNameKeys        = []string{"name", "nombre", "title", "productName", "product_name"}
	productDescriptionKeys = []string{"shortDescription", "short_description", "description", "descripcion", "summary"}
	productPriceKeys       = []string{"price", "precio", "unitPrice", "unit_price", "salePrice"}
	productOriginalKeys    = []string{"originalPrice", "original_price", "comparePrice", "compare_at_price", "precioOriginal", "listPrice"}
	productStockKeys       = []string{"stockQuantity", "stock_quantity", "stock", "quantity", "cantidad", "inventory"}
	productCategoryKeys    = []string{"category.name", "category.nombre", "categoria.nombre", "category", "categoria", "categoryName", "category_name"}
	productCompanyKeys     = []string{"companyId", "company_id", "company.id", "company._id", "empresaId", "empresa.id", "storeId", "company", "empresa"}
	productCompanyNameKeys = []string{"company.name", "company.nombre", "companyName", "company_name", "empresa.nombre", "storeName"}
	productImageKeys       = []string{"imageUrl", "image_url", "image", "imagen", "thumbnail", "images.0.url", "images.0"}
	productPopularKeys     = []string{"popular", "isPopular", "is_popular", "featured", "isFeatured"}
	productRatingKeys      = []string{"rating", "averageRating", "average_rating", "calificacion", "stars"}

	companyNameKeys        = []string{"name", "nombre", "companyName", "company_name", "businessName", "razonSocial"}
	companyDescriptionKeys = []string{"description", "descripcion", "about"}
	companySectorKeys      = []string{"sector", "industry", "rubro", "category"}
	companyAddressKeys     = []string{"address", "direccion", "location"}
	companyPhoneKeys       = []string{"phone", "telefono", "phoneNumber", "phone_number"}
	companyEmailKeys       = []string{"email", "correo", "contactEmail", "contact_email", "owner.email"}
	companyLogoKeys        = []string{"logoUrl", "logo_url", "logo", "imageUrl", "image"}

	userNameKeys  = []string{"name", "nombre", "fullName", "full_name", "username"}
	userEmailKeys = []string{"email", "correo", "mail"}
	userRoleKeys  = []string{"role", "rol", "userType", "user_type", "type"}

	statusKeys    = []string{"status", "estado", "state"}
	createdAtKeys = []string{"createdAt", "created_at", "fechaCreacion", "dateCreated", "created"}
	updatedAtKeys = []string{"updatedAt", "updated_at", "fechaActualizacion", "dateUpdated", "modified"}
)

// Product normalizes one backend product record. Records without an id are
// rejected; every other missing field takes its zero value.
func Product(rec Record) (models.Product, bool) {
	id := rec.String(productIDKeys...)
	if id == "" {
		return models.Product{}, false
	}

	price, _ := rec.Decimal(productPriceKeys...)
	if price.IsNegative() {
		return models.Product{}, false
	}

	p := models.Product{
		ID:               id,
		Name:             rec.String(productNameKeys...),
		ShortDescription: rec.String(productDescriptionKeys...),
		Price:            price,
		Category:         rec.String(productCategoryKeys...),
		CompanyID:        rec.String(productCompanyKeys...),
		CompanyName:      rec.String(productCompanyNameKeys...),
		ImageURL:         rec.String(productImageKeys...),
		Status:           strings.ToLower(rec.String(statusKeys...)),
		Popular:          rec.Bool(productPopularKeys...),
		CreatedAt:        rec.Time(createdAtKeys...),
		UpdatedAt:        rec.Time(updatedAtKeys...),
	}

	if original, ok := rec.Decimal(productOriginalKeys...); ok && original.GreaterThan(price) {
		p.OriginalPrice = &original
	}
	if stock, ok := rec.Int(productStockKeys...); ok && stock > 0 {
		p.StockQuantity = stock
	}
	if rating, ok := rec.Float(productRatingKeys...); ok {
		p.Rating = rating
	}

	return p, true
}

// Company normalizes one backend company record
func Company(rec Record) (models.Company, bool) {
	id := rec.String(append(idKeys, "companyId", "company_id")...)
	if id == "" {
		return models.Company{}, false
	}

	return models.Company{
		ID:          id,
		Name:        rec.String(companyNameKeys...),
		Description: rec.String(companyDescriptionKeys...),
		Sector:      rec.String(companySectorKeys...),
		Address:     rec.String(companyAddressKeys...),
		Phone:       rec.String(companyPhoneKeys...),
		Email:       rec.String(companyEmailKeys...),
		LogoURL:     rec.String(companyLogoKeys...),
		Status:      strings.ToLower(rec.String(statusKeys...)),
		CreatedAt:   rec.Time(createdAtKeys...),
		UpdatedAt:   rec.Time(updatedAtKeys...),
	}, true
}

var roleAliases = map[string]string{
	"admin":         models.RoleAdmin,
	"administrator": models.RoleAdmin,
	"administrador": models.RoleAdmin,
	"entrepreneur":  models.RoleEntrepreneur,
	"emprendedor":   models.RoleEntrepreneur,
	"seller":        models.RoleEntrepreneur,
	"client":        models.RoleClient,
	"cliente":       models.RoleClient,
	"customer":      models.RoleClient,
}

// Role maps a backend role spelling onto one of the known roles.
// Unknown roles are returned lower-cased.
func Role(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if role, ok := roleAliases[key]; ok {
		return role
	}
	return key
}

// User normalizes one backend user record
func User(rec Record) (models.User, bool) {
	id := rec.String(append(idKeys, "userId", "user_id")...)
	email := rec.String(userEmailKeys...)
	if id == "" && email == "" {
		return models.User{}, false
	}

	return models.User{
		ID:     id,
		Name:   rec.String(userNameKeys...),
		Email:  email,
		Role:   Role(rec.String(userRoleKeys...)),
		Status: strings.ToLower(rec.String(statusKeys...)),
	}, true
}

// Category normalizes one backend category record. A bare string is
// accepted as a category whose id and name are the same.
func Category(v any) (models.Category, bool) {
	switch c := v.(type) {
	case string:
		name := strings.TrimSpace(c)
		return models.Category{ID: name, Name: name}, name != ""
	case map[string]any:
		rec := Record(c)
		name := rec.String("name", "nombre", "title", "label")
		id := rec.String(idKeys...)
		if id == "" {
			id = name
		}
		return models.Category{ID: id, Name: name}, name != ""
	}
	return models.Category{}, false
}

// Products normalizes a list, dropping records that cannot be used
func Products(records []Record) []models.Product {
	out := make([]models.Product, 0, len(records))
	for _, rec := range records {
		if p, ok := Product(rec); ok {
			out = append(out, p)
		}
	}
	return out
}

// Companies normalizes a list, dropping records that cannot be used
func Companies(records []Record) []models.Company {
	out := make([]models.Company, 0, len(records))
	for _, rec := range records {
		if c, ok := Company(rec); ok {
			out = append(out, c)
		}
	}
	return out
}

// Users normalizes a list, dropping records that cannot be used
func Users(records []Record) []models.User {
	out := make([]models.User, 0, len(records))
	for _, rec := range records {
		if u, ok := User(rec); ok {
			out = append(out, u)
		}
	}
	return out
}

// envelopeKeys are the wrapper fields list endpoints put their rows under
var envelopeKeys = []string{"items", "data", "results", "content", "products", "companies", "users", "categories"}

// DecodeList decodes a list response. The backend answers either with a bare
// JSON array or with an object wrapping the array under one of envelopeKeys.
// Numbers are kept as json.Number so prices keep their exact decimal value.
func DecodeList(body []byte) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode list")
	}

	switch v := raw.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range envelopeKeys {
			if rows, ok := v[key].([]any); ok {
				return rows, nil
			}
			// {"data": {"items": [...]}}
			if inner, ok := v[key].(map[string]any); ok {
				for _, innerKey := range envelopeKeys {
					if rows, ok := inner[innerKey].([]any); ok {
						return rows, nil
					}
				}
			}
		}
		return nil, errors.New("list response has no recognizable array")
	case nil:
		return nil, nil
	}
	return nil, errors.Errorf("unexpected list response type %T", raw)
}

// Records keeps the object rows of a decoded list
func Records(rows []any) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if m, ok := row.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}
