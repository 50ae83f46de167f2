package likelihood

// Physical constants in SI units.
const (
	// GravitationalConstant in m^3 kg^-1 s^-2 (CODATA 2018).
	GravitationalConstant = 6.67430e-11
	// SpeedOfLight in m/s.
	SpeedOfLight = 299792458.0
	// SolarMassKg is the solar mass in kg used for the mass-to-time conversion.
	SolarMassKg = 1.989e30
	// Parsec in meters.
	Parsec = 3.0856775814913673e16
	// MegaParsec in meters.
	MegaParsec = 1e6 * Parsec
	// JulianYear in seconds.
	JulianYear = 365.25 * 86400.0
	// AstronomicalUnit in meters.
	AstronomicalUnit = 1.495978707e11
)

// SolarMassSeconds converts a mass in solar masses to geometrized time in seconds:
// G·M_sun/c^3 ≈ 4.926e-6 s.
const SolarMassSeconds = SolarMassKg * GravitationalConstant / (SpeedOfLight * SpeedOfLight * SpeedOfLight)
