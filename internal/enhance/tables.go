package enhance

import "github.com/zombor/pricescan/internal/receipt"

// misspellings maps common OCR and abbreviation mistakes to the intended word
var misspellings = map[string]string{
	"chiken":   "chicken",
	"chikn":    "chicken",
	"ckn":      "chicken",
	"chkn":     "chicken",
	"bf":       "beef",
	"mlk":      "milk",
	"brd":      "bread",
	"suger":    "sugar",
	"sugr":     "sugar",
	"tomatoe":  "tomato",
	"tomatos":  "tomatoes",
	"bannana":  "banana",
	"bananna":  "banana",
	"potatoe":  "potato",
	"chse":     "cheese",
	"chees":    "cheese",
	"yog":      "yogurt",
	"yoghurt":  "yogurt",
	"juce":     "juice",
	"jce":      "juice",
	"whl":      "whole",
	"wht":      "white",
	"brwn":     "brown",
	"veg":      "vegetable",
	"vegs":     "vegetables",
	"choc":     "chocolate",
	"chocolat": "chocolate",
	"crackr":   "cracker",
	"biscut":   "biscuit",
	"detergnt": "detergent",
	"shampo":   "shampoo",
	"tisue":    "tissue",
	"tissu":    "tissue",
	"papr":     "paper",
	"twl":      "towel",
	"sft":      "soft",
	"drnk":     "drink",
	"watr":     "water",
	"coffe":    "coffee",
	"cofee":    "coffee",
	"buttr":    "butter",
	"marg":     "margarine",
	"flr":      "flour",
	"ceral":    "cereal",
	"cereals":  "cereal",
	"diapr":    "diaper",
	"diapers":  "diaper",
	"formla":   "formula",
	"vit":      "vitamin",
	"tabs":     "tablets",
}

// brands keep their canonical casing instead of title case
var brands = map[string]string{
	"ks":        "KS",
	"kfc":       "KFC",
	"lasco":     "LASCO",
	"grace":     "Grace",
	"nestle":    "Nestle",
	"pepsi":     "Pepsi",
	"coca":      "Coca",
	"cola":      "Cola",
	"kirkland":  "Kirkland",
	"colgate":   "Colgate",
	"huggies":   "Huggies",
	"pampers":   "Pampers",
	"tide":      "Tide",
	"dettol":    "Dettol",
	"wisynco":   "Wisynco",
	"tastee":    "Tastee",
	"excelsior": "Excelsior",
	"nutramix":  "Nutramix",
	"panadol":   "Panadol",
	"ovaltine":  "Ovaltine",
	"milo":      "Milo",
	"bigga":     "Bigga",
	"hp":        "HP",
	"usb":       "USB",
	"tv":        "TV",
	"led":       "LED",
}

// stopWords stay lowercase except as the first word
var stopWords = map[string]bool{
	"a":    true,
	"an":   true,
	"and":  true,
	"of":   true,
	"with": true,
	"in":   true,
	"the":  true,
	"for":  true,
	"or":   true,
	"on":   true,
	"to":   true,
}

type categoryKeywords struct {
	category receipt.Category
	keywords map[string]float64
}

// MinCategoryScore is the aggregate keyword weight a category needs to be assigned
const MinCategoryScore = 0.5

// categories is scored in order; earlier entries win ties
var categories = []categoryKeywords{
	{receipt.CategoryProduce, map[string]float64{
		"banana": 0.9, "apple": 0.8, "orange": 0.7, "tomato": 0.9, "tomatoes": 0.9,
		"potato": 0.8, "onion": 0.9, "carrot": 0.9, "lettuce": 0.9, "cabbage": 0.9,
		"callaloo": 0.9, "pepper": 0.6, "yam": 0.8, "plantain": 0.9, "lime": 0.7,
		"avocado": 0.9, "mango": 0.9, "pineapple": 0.9, "fresh": 0.3, "organic": 0.2,
		"vegetable": 0.7, "vegetables": 0.7, "fruit": 0.7, "garlic": 0.8, "ginger": 0.8,
	}},
	{receipt.CategoryMeat, map[string]float64{
		"chicken": 0.9, "beef": 0.9, "pork": 0.9, "fish": 0.9, "salmon": 0.9,
		"shrimp": 0.9, "turkey": 0.8, "mince": 0.7, "ground": 0.3, "steak": 0.9,
		"sausage": 0.8, "ham": 0.8, "bacon": 0.9, "wings": 0.6, "breast": 0.5,
		"thigh": 0.6, "goat": 0.8, "mackerel": 0.9, "sardine": 0.8, "tuna": 0.8,
	}},
	{receipt.CategoryDairy, map[string]float64{
		"milk": 0.9, "cheese": 0.9, "yogurt": 0.9, "butter": 0.8, "cream": 0.6,
		"margarine": 0.8, "eggs": 0.7, "egg": 0.7, "condensed": 0.6, "evaporated": 0.6,
	}},
	{receipt.CategoryBakery, map[string]float64{
		"bread": 0.9, "bun": 0.8, "bagel": 0.9, "muffin": 0.9, "cake": 0.8,
		"croissant": 0.9, "loaf": 0.7, "roll": 0.4, "rolls": 0.5, "hardo": 0.9,
		"bulla": 0.9, "pastry": 0.8, "tortilla": 0.7,
	}},
	{receipt.CategoryBeverages, map[string]float64{
		"juice": 0.9, "water": 0.8, "soda": 0.9, "drink": 0.7, "coffee": 0.9,
		"tea": 0.8, "beer": 0.9, "wine": 0.9, "rum": 0.9, "cola": 0.8,
		"pepsi": 0.9, "malt": 0.7, "energy": 0.4, "ovaltine": 0.7, "milo": 0.7,
	}},
	{receipt.CategorySnacks, map[string]float64{
		"chips": 0.9, "cracker": 0.8, "crackers": 0.8, "biscuit": 0.8, "cookies": 0.9,
		"cookie": 0.9, "chocolate": 0.8, "candy": 0.9, "popcorn": 0.9, "nuts": 0.7,
		"peanuts": 0.8, "snack": 0.8, "bar": 0.3, "gum": 0.7, "wafer": 0.8,
	}},
	{receipt.CategoryGroceries, map[string]float64{
		"rice": 0.8, "flour": 0.8, "sugar": 0.8, "salt": 0.7, "oil": 0.6,
		"pasta": 0.8, "spaghetti": 0.8, "macaroni": 0.8, "cereal": 0.8, "oats": 0.8,
		"beans": 0.7, "peas": 0.6, "sauce": 0.6, "ketchup": 0.8, "seasoning": 0.7,
		"spice": 0.6, "soup": 0.6, "noodles": 0.7, "cornmeal": 0.9, "honey": 0.7,
		"jam": 0.6, "peanut": 0.3, "canned": 0.4, "tin": 0.3, "mayonnaise": 0.8,
	}},
	{receipt.CategoryHousehold, map[string]float64{
		"detergent": 0.9, "bleach": 0.9, "soap": 0.5, "tissue": 0.8, "paper": 0.4,
		"towel": 0.6, "towels": 0.6, "foil": 0.8, "bags": 0.5, "trash": 0.8,
		"cleaner": 0.8, "disinfectant": 0.8, "sponge": 0.8, "batteries": 0.5,
		"bulb": 0.6, "napkins": 0.8, "softener": 0.8, "dishwashing": 0.9,
	}},
	{receipt.CategoryPersonalCare, map[string]float64{
		"shampoo": 0.9, "conditioner": 0.9, "toothpaste": 0.9, "toothbrush": 0.9,
		"deodorant": 0.9, "lotion": 0.8, "razor": 0.8, "body": 0.3, "wash": 0.3,
		"soap": 0.4, "floss": 0.8, "mouthwash": 0.9, "sanitary": 0.8, "pads": 0.5,
	}},
	{receipt.CategoryPharmacy, map[string]float64{
		"tablets": 0.8, "capsules": 0.8, "vitamin": 0.8, "vitamins": 0.8, "syrup": 0.6,
		"panadol": 0.9, "aspirin": 0.9, "ibuprofen": 0.9, "antacid": 0.9, "cough": 0.7,
		"bandage": 0.8, "plaster": 0.6, "medicine": 0.9, "mg": 0.6, "ointment": 0.8,
	}},
	{receipt.CategoryBaby, map[string]float64{
		"diaper": 0.9, "wipes": 0.6, "formula": 0.7, "infant": 0.8, "baby": 0.8,
		"huggies": 0.9, "pampers": 0.9, "bottle": 0.3, "nutramix": 0.7,
	}},
	{receipt.CategoryElectronics, map[string]float64{
		"usb": 0.8, "cable": 0.6, "charger": 0.8, "headphones": 0.9, "earbuds": 0.9,
		"tv": 0.8, "led": 0.4, "hdmi": 0.9, "speaker": 0.8, "phone": 0.4,
		"laptop": 0.9, "mouse": 0.5, "keyboard": 0.8, "adapter": 0.6, "memory": 0.4,
	}},
}

// defaultUnits applies when no explicit unit token is present
var defaultUnits = map[receipt.Category]receipt.Unit{
	receipt.CategoryProduce: receipt.UnitPerLb,
	receipt.CategoryMeat:    receipt.UnitPerLb,
}

// unitTokens maps a lowercase unit token to its unit
var unitTokens = map[string]receipt.Unit{
	"lb":    receipt.UnitPerLb,
	"lbs":   receipt.UnitPerLb,
	"kg":    receipt.UnitPerKg,
	"kgs":   receipt.UnitPerKg,
	"oz":    receipt.UnitPerOz,
	"g":     receipt.UnitPerG,
	"gm":    receipt.UnitPerG,
	"l":     receipt.UnitPerL,
	"ltr":   receipt.UnitPerL,
	"ltrs":  receipt.UnitPerL,
	"ml":    receipt.UnitPerMl,
	"gal":   receipt.UnitPerGal,
	"pk":    receipt.UnitPack,
	"pack":  receipt.UnitPack,
	"dz":    receipt.UnitDozen,
	"doz":   receipt.UnitDozen,
	"dozen": receipt.UnitDozen,
	"ea":    receipt.UnitEach,
	"each":  receipt.UnitEach,
}

// priceRange is an inclusive plausibility range in minor units
type priceRange struct {
	min, max receipt.Money
}

var priceRanges = map[receipt.Category]priceRange{
	receipt.CategoryGroceries:    {50, 2_000_000},
	receipt.CategoryProduce:      {25, 1_000_000},
	receipt.CategoryMeat:         {100, 3_000_000},
	receipt.CategoryDairy:        {50, 1_000_000},
	receipt.CategoryBakery:       {50, 800_000},
	receipt.CategoryBeverages:    {50, 1_500_000},
	receipt.CategorySnacks:       {25, 800_000},
	receipt.CategoryHousehold:    {50, 3_000_000},
	receipt.CategoryPersonalCare: {50, 2_000_000},
	receipt.CategoryPharmacy:     {50, 4_000_000},
	receipt.CategoryBaby:         {50, 3_000_000},
	receipt.CategoryElectronics:  {500, 50_000_000},
	receipt.CategoryOther:        {1, receipt.UpperBound - 1},
}

// storeMultiplier scales a category range for retailer formats. Bulk
// warehouse formats sell larger packs and need a higher floor.
type storeMultiplier struct {
	min, max float64
}

var storeMultipliers = map[string]storeMultiplier{
	"pricesmart": {min: 2.0, max: 3.0},
	"megamart":   {min: 1.5, max: 2.0},
}
