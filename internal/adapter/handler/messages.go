package handler

import (
	"golang.org/x/text/language"

	"github.com/rl1809/reseller/internal/core/domain"
)

type messageKey string

const (
	msgOK             messageKey = "ok"
	msgOrderPlaced    messageKey = "order_placed"
	msgInvalidRequest messageKey = "invalid_request"
	msgUnauthorized   messageKey = "unauthorized"
	msgForbidden      messageKey = "forbidden"
)

// Supported response languages, default first.
var supportedLanguages = []language.Tag{language.English, language.Arabic}

var matcher = language.NewMatcher(supportedLanguages)

var catalog = []map[messageKey]string{
	// en
	{
		msgOK:             "ok",
		msgOrderPlaced:    "order placed successfully",
		msgInvalidRequest: "invalid request",
		msgUnauthorized:   "authentication required",
		msgForbidden:      "permission denied",

		kindKey(domain.KindValidation):        "invalid request",
		kindKey(domain.KindProductNotFound):   "product not found",
		kindKey(domain.KindInsufficientFunds): "insufficient balance",
		kindKey(domain.KindInsufficientStock): "sold out",
		kindKey(domain.KindDuplicateRequest):  "duplicate request",
		kindKey(domain.KindNotFound):          "not found",
		kindKey(domain.KindInfrastructure):    "internal error",
	},
	// ar
	{
		msgOK:             "تمت العملية بنجاح",
		msgOrderPlaced:    "تم تنفيذ الطلب بنجاح",
		msgInvalidRequest: "بيانات الطلب غير صالحة",
		msgUnauthorized:   "يجب تسجيل الدخول",
		msgForbidden:      "ليس لديك صلاحية",

		kindKey(domain.KindValidation):        "بيانات الطلب غير صالحة",
		kindKey(domain.KindProductNotFound):   "المنتج غير موجود",
		kindKey(domain.KindInsufficientFunds): "الرصيد غير كافٍ",
		kindKey(domain.KindInsufficientStock): "الكمية المطلوبة غير متوفرة",
		kindKey(domain.KindDuplicateRequest):  "طلب مكرر",
		kindKey(domain.KindNotFound):          "غير موجود",
		kindKey(domain.KindInfrastructure):    "حدث خطأ داخلي",
	},
}

func kindKey(k domain.Kind) messageKey {
	return messageKey("kind." + string(k))
}

// languageIndex picks the catalog for an Accept-Language header.
func languageIndex(acceptLanguage string) int {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return 0
	}
	_, idx, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return 0
	}
	return idx
}

func localize(acceptLanguage string, key messageKey) string {
	if msg, ok := catalog[languageIndex(acceptLanguage)][key]; ok {
		return msg
	}
	return catalog[0][key]
}
