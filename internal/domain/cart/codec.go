package cart

import (
	"encoding/json"
	"io"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

var (
	minQuantity = decimal.NewFromInt(1)
	maxQuantity = decimal.NewFromInt(MaxQuantity)
)

// Codec moves a cart in and out of the token the client holds. Decode never
// fails: a missing, tampered or malformed token yields an empty cart.
type Codec interface {
	Encode(c *Cart) (string, error)
	Decode(token string) *Cart
}

var (
	_ Codec = PlainCodec{}
	_ Codec = (*SignedCodec)(nil)
)

// PlainCodec stores the cart as percent-encoded JSON.
type PlainCodec struct{}

// Encode implements Codec.
func (PlainCodec) Encode(c *Cart) (string, error) {
	return url.QueryEscape(string(Marshal(c))), nil
}

// Decode implements Codec.
func (PlainCodec) Decode(token string) *Cart {
	if token == "" {
		return New()
	}
	raw, err := url.QueryUnescape(token)
	if err != nil {
		return New()
	}
	c, err := Unmarshal([]byte(raw))
	if err != nil {
		return New()
	}
	return c
}

// SignedCodec stores the cart inside an HS256 JWT so clients cannot edit
// prices or quantities without invalidating the token.
type SignedCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedCodec returns a SignedCodec. Tokens expire after ttl; a zero ttl
// disables expiry.
func NewSignedCodec(secret []byte, ttl time.Duration) *SignedCodec {
	return &SignedCodec{secret: secret, ttl: ttl, now: time.Now}
}

type cartClaims struct {
	Cart json.RawMessage `json:"cart"`
	jwt.RegisteredClaims
}

// Encode implements Codec.
func (s *SignedCodec) Encode(c *Cart) (string, error) {
	now := s.now()
	claims := cartClaims{
		Cart: Marshal(c),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign cart token")
	}
	return token, nil
}

// Decode implements Codec.
func (s *SignedCodec) Decode(token string) *Cart {
	if token == "" {
		return New()
	}

	var claims cartClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return New()
	}

	c, err := Unmarshal(claims.Cart)
	if err != nil {
		return New()
	}
	return c
}

// Marshal serializes the cart as
// {"items":[{productId,slug,name,price,quantity,image?}],"updatedAt":RFC3339}.
func Marshal(c *Cart) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range c.Items {
					encodeItem(e, it)
				}
			})
		})
		if !c.UpdatedAt.IsZero() {
			e.Field("updatedAt", func(e *jx.Encoder) {
				e.Str(c.UpdatedAt.UTC().Format(time.RFC3339Nano))
			})
		}
	})
	return e.Bytes()
}

func encodeItem(e *jx.Encoder, it Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		e.Field("slug", func(e *jx.Encoder) { e.Str(it.Slug) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(it.Price.String())) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		if it.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(it.Image) })
		}
	})
}

var (
	errNotObject    = errors.New("cart is not an object")
	errItemsNotList = errors.New("cart items is not a list")
	errTrailingData = errors.New("unexpected data after cart")
)

// Unmarshal parses a serialized cart. The document must be a single object
// whose items, when present, is an array. Individual lines that are malformed,
// duplicated or beyond MaxItems are dropped rather than failing the cart.
func Unmarshal(data []byte) (*Cart, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errNotObject
	}

	c := New()
	seen := make(map[string]struct{})
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			if d.Next() != jx.Array {
				return errItemsNotList
			}
			return d.Arr(func(d *jx.Decoder) error {
				it, ok, err := decodeItem(d)
				if err != nil || !ok {
					return err
				}
				if _, dup := seen[it.Slug]; dup || len(c.Items) >= MaxItems {
					return nil
				}
				seen[it.Slug] = struct{}{}
				c.Items = append(c.Items, it)
				return nil
			})
		case "updatedAt":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				c.UpdatedAt = t
			}
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return c, nil
}

// decodeItem reads one cart line. ok is false when the line is well-formed
// JSON but violates a cart invariant and should be dropped.
func decodeItem(d *jx.Decoder) (it Item, ok bool, err error) {
	if d.Next() != jx.Object {
		return Item{}, false, d.Skip()
	}

	var (
		havePrice bool
		validQty  = true
	)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			return decodeString(d, &it.ProductID)
		case "slug":
			return decodeString(d, &it.Slug)
		case "name":
			return decodeString(d, &it.Name)
		case "image":
			return decodeString(d, &it.Image)
		case "price":
			v, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			if v != nil {
				it.Price, havePrice = *v, true
			}
			return nil
		case "quantity":
			v, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			if v == nil || !v.IsInteger() || v.LessThan(minQuantity) || v.GreaterThan(maxQuantity) {
				validQty = false
				return nil
			}
			it.Quantity = int(v.IntPart())
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Item{}, false, err
	}

	ok = it.Slug != "" &&
		havePrice && !it.Price.IsNegative() &&
		validQty && it.Quantity >= 1 && it.Quantity <= MaxQuantity
	return it, ok, nil
}

// decodeString reads a string value; any other JSON type is skipped.
func decodeString(d *jx.Decoder, dst *string) error {
	if d.Next() != jx.String {
		return d.Skip()
	}
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

// decodeDecimal reads a number or a numeric string. It returns nil for any
// other value, including strings that do not parse or fall outside
// product.PriceInRange.
func decodeDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = s
	default:
		return nil, d.Skip()
	}

	v, err := decimal.NewFromString(raw)
	if err != nil || !product.PriceInRange(v) {
		return nil, nil
	}
	return &v, nil
}
