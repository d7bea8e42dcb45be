package gunn

import (
	"math"
)

// Float16 represents a 16-bit floating point number
type Float16 uint16

// Float16 conversion constants
const (
	float16SignMask     = 0x8000
	float16ExponentMask = 0x7C00
	float16MantissaMask = 0x03FF
	float16ExponentBias = 15
	float16MantissaBits = 10
)

// ToFloat32 converts Float16 to float32
func (f Float16) ToFloat32() float32 {
	sign := uint32(f&float16SignMask) << 16
	exponent := (f & float16ExponentMask) >> float16MantissaBits
	mantissa := f & float16MantissaMask

	if exponent == 0 {
		// Subnormal or zero
		if mantissa == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal - normalize it
		exp := uint32(1)
		for mantissa&0x200 == 0 {
			mantissa <<= 1
			exp++
		}
		mantissa &= 0x1FF
		exponentBits := 127 - 15 - uint16(exp) + 1
		return math.Float32frombits(sign | (uint32(exponentBits) << 23) | (uint32(mantissa) << 13))
	} else if exponent == 0x1F {
		// Infinity or NaN
		if mantissa == 0 {
			return math.Float32frombits(sign | 0x7F800000) // Infinity
		}
		return math.Float32frombits(sign | 0x7FC00000 | (uint32(mantissa) << 13)) // NaN
	}

	// Normal number
	return math.Float32frombits(sign | ((uint32(exponent) + 127 - 15) << 23) | (uint32(mantissa) << 13))
}

// FromFloat32 converts float32 to Float16
func FromFloat32(f float32) Float16 {
	bits := math.Float32bits(f)
	sign := (bits >> 16) & float16SignMask
	exponent := (bits >> 23) & 0xFF
	mantissa := bits & 0x7FFFFF

	// Handle special cases
	if exponent == 0xFF {
		// Infinity or NaN
		if mantissa == 0 {
			return Float16(sign | float16ExponentMask) // Infinity
		}
		return Float16(sign | float16ExponentMask | (mantissa >> 13)) // NaN
	}

	// Convert exponent
	exp := int(exponent) - 127 + float16ExponentBias

	if exp <= 0 {
		// Underflow to zero
		return Float16(sign)
	} else if exp >= 0x1F {
		// Overflow to infinity
		return Float16(sign | float16ExponentMask)
	}

	// Normal number
	return Float16(uint16(sign) | (uint16(exp) << float16MantissaBits) | uint16(mantissa>>13))
}
