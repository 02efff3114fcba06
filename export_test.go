package pgmanager

// ConvertValue exposes convertValue to external tests.
var ConvertValue = convertValue
