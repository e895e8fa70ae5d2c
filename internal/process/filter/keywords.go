package filter

// defaultBaseKeywords is the curated threat keyword list applied with
// word-boundary matching, in insertion order (first match wins). Override
// with THREAT_KEYWORDS_FILE.
var defaultBaseKeywords = []string{
	// Explosives and bombings
	"bombing", "car bomb", "suicide bomber", "ied", "improvised explosive",
	"explosion", "blast", "grenade", "landmine", "mortar attack",
	"roadside bomb", "vbied", "detonation", "explosive device",

	// Armed violence
	"gunman", "gunmen", "shooting", "mass shooting", "shootout", "gunfire",
	"armed assault", "armed attack", "sniper", "drive-by shooting",
	"stabbing", "machete attack", "knife attack",

	// Terrorism and insurgency
	"terrorist", "terrorism", "terror attack", "terror plot", "jihadist",
	"insurgent", "insurgency", "militant", "extremist", "radicalized",
	"suicide attack", "martyrdom operation", "boko haram", "al-shabaab",
	"al-qaeda", "islamic state", "isis", "isil", "taliban", "hezbollah",

	// Kidnapping and hostage
	"kidnapping", "kidnapped", "abduction", "abducted", "hostage",
	"hostage-taking", "ransom demand", "forced disappearance",

	// Conflict and military
	"airstrike", "air strike", "artillery shelling", "shelling", "offensive",
	"counteroffensive", "ceasefire violation", "armed clash", "clashes",
	"crossfire", "military raid", "drone strike", "missile strike",
	"rocket attack", "incursion", "ambush", "firefight", "mobilization",
	"troop buildup", "paramilitary",

	// Civil unrest
	"riot", "rioting", "looting", "violent protest", "demonstration turned violent",
	"crackdown", "tear gas", "water cannon", "curfew", "state of emergency",
	"martial law", "coup", "coup attempt", "uprising", "mutiny",

	// Crime
	"homicide", "murdered", "assassination", "assassinated", "massacre",
	"mass grave", "execution-style", "cartel violence", "gang violence",
	"organized crime", "drug trafficking", "human trafficking", "smuggling ring",
	"armed robbery", "carjacking", "extortion racket", "piracy", "hijacking",
	"hijacked",

	// Cyber
	"cyberattack", "cyber attack", "ransomware", "data breach", "ddos",
	"denial of service", "malware", "phishing campaign", "zero-day",
	"supply chain attack", "credential theft", "botnet", "wiper malware",
	"industrial control system", "scada", "defacement", "cyber espionage",

	// Infrastructure and hazmat
	"pipeline sabotage", "sabotage", "power grid failure", "blackout",
	"gas leak", "chemical spill", "toxic leak", "hazmat", "radiological",
	"dirty bomb", "nuclear facility", "refinery fire", "derailment",
	"bridge collapse", "dam failure", "water contamination",

	// Aviation and maritime
	"plane crash", "aircraft hijacking", "emergency landing", "airspace violation",
	"vessel seized", "maritime incident", "port closure", "naval confrontation",

	// Health and disaster
	"epidemic", "pandemic", "outbreak", "ebola", "cholera outbreak",
	"earthquake", "tsunami", "hurricane", "typhoon", "cyclone", "flash flood",
	"flooding", "landslide", "wildfire", "volcanic eruption", "drought emergency",
	"famine", "aftershock", "storm surge",

	// CBRN
	"chemical weapon", "nerve agent", "sarin", "anthrax", "biological weapon",
	"weapons of mass destruction", "enriched uranium", "ballistic missile",
	"missile test", "nuclear test",

	// Political instability
	"political assassination", "election violence", "ethnic cleansing",
	"genocide", "war crimes", "crimes against humanity", "refugee crisis",
	"mass displacement", "border closure", "travel ban", "evacuation order",
	"security alert", "terror threat level", "lockdown",

	// Explosives, continued
	"pipe bomb", "letter bomb", "parcel bomb", "petrol bomb", "molotov cocktail",
	"truck bomb", "booby trap", "unexploded ordnance", "bomb threat",
	"bomb disposal", "bomb squad", "controlled detonation", "cluster munition",
	"fragmentation grenade", "rpg attack", "shrapnel", "blast wave",
	"secondary explosion", "explosives cache", "bomb-making",

	// Armed violence, continued
	"active shooter", "school shooting", "gun battle", "exchange of fire",
	"opened fire", "shot dead", "shot and killed", "fatally shot",
	"gunned down", "armed men", "armed group", "armed gang", "gunpoint",
	"crossbow attack", "acid attack", "arson attack", "vehicle ramming",
	"ramming attack", "lynching", "mob violence", "mob attack",
	"vigilante violence", "targeted killing", "contract killing", "hitman",

	// Terrorism and insurgency, continued
	"terror cell", "sleeper cell", "terrorist network", "terror financing",
	"foreign fighters", "radicalization", "violent extremism", "lone wolf",
	"claimed responsibility", "suicide vest", "suicide belt", "martyr video",
	"hamas", "islamic jihad", "houthi", "houthis", "wagner group", "farc",
	"eln", "pkk", "ypg", "jnim", "iswap", "aqim", "al-nusra", "lashkar-e-taiba",
	"jaish-e-mohammed", "tehrik-i-taliban", "m23", "adf rebels",
	"separatist militants", "rebel group", "rebel forces", "guerrilla",
	"guerrillas", "warlord",

	// Kidnapping and hostage, continued
	"mass abduction", "schoolchildren abducted", "aid workers kidnapped",
	"kidnap-for-ransom", "hostage crisis", "hostage situation", "hostage rescue",
	"captives", "held captive", "unlawful detention", "enforced disappearance",
	"missing persons", "body found", "bodies found",

	// Conflict and military, continued
	"invasion", "annexation", "occupation forces", "frontline fighting",
	"heavy fighting", "intense fighting", "renewed fighting", "escalation",
	"cross-border attack", "cross-border shelling", "border clash",
	"border skirmish", "territorial dispute", "no-fly zone", "siege",
	"besieged", "encirclement", "ground offensive", "aerial bombardment",
	"bombardment", "barrage", "cruise missile", "hypersonic missile",
	"surface-to-air missile", "anti-tank missile", "loitering munition",
	"kamikaze drone", "drone swarm", "drone attack", "uav strike",
	"air raid", "air defense", "tanks deployed", "armored vehicles",
	"military convoy", "convoy attacked", "checkpoint attack",
	"military base attacked", "garrison", "casualty toll", "death toll",
	"wounded in action", "killed in action", "prisoner exchange",
	"prisoners of war", "demilitarized zone", "peacekeepers",
	"peacekeeping force", "arms shipment", "arms embargo", "weapons cache",
	"ammunition depot", "military escalation", "war declaration",
	"hostilities resumed", "truce broken", "ceasefire collapsed",

	// Civil unrest, continued
	"mass protest", "anti-government protest", "protesters clashed",
	"clashes with police", "police opened fire", "live ammunition",
	"rubber bullets", "stun grenades", "barricades", "general strike",
	"civil disobedience", "unrest spread", "ethnic violence",
	"sectarian violence", "communal violence", "intercommunal clashes",
	"vigilante justice", "prison riot", "jailbreak", "prison break",
	"mass escape", "military takeover", "junta", "power grab",
	"constitutional crisis", "disputed election", "election fraud",
	"post-election violence", "transitional government collapse",

	// Crime, continued
	"serial killer", "manhunt", "shootings spree", "femicide", "honor killing",
	"ritual killing", "contract violence", "drug cartel", "narco",
	"drug seizure", "cocaine seizure", "heroin seizure", "fentanyl",
	"arms trafficking", "weapons smuggling", "migrant smuggling",
	"people smuggling", "sex trafficking", "child trafficking",
	"money laundering", "racketeering", "kidnap gang", "bandits",
	"banditry", "cattle rustling", "highway robbery", "armed bandits",
	"jewel heist", "bank robbery", "prison sentence for terror",
	"illegal mining violence", "poaching syndicate",

	// Cyber, continued
	"ransomware attack", "ransomware gang", "data leak", "data exfiltration",
	"network intrusion", "system compromise", "hacking group", "hacktivist",
	"state-sponsored hackers", "apt group", "spear phishing", "business email compromise",
	"sql injection", "remote code execution", "vulnerability exploited",
	"critical vulnerability", "patch released for", "cyber incident",
	"it outage", "service disruption", "grid attack", "telecom outage",
	"satellite jamming", "gps spoofing", "disinformation campaign",
	"influence operation", "deepfake",

	// Infrastructure and hazmat, continued
	"pipeline explosion", "pipeline attack", "oil facility attack",
	"refinery attack", "substation attack", "power outage", "grid failure",
	"transformer fire", "fuel depot fire", "industrial accident",
	"factory explosion", "mine collapse", "mining accident", "building collapse",
	"structural collapse", "train derailment", "train collision", "rail accident",
	"road tanker explosion", "ammonia leak", "chlorine leak", "radiation leak",
	"nuclear incident", "reactor shutdown", "contaminated water supply",
	"oil spill", "environmental disaster",

	// Aviation and maritime, continued
	"helicopter crash", "military jet crash", "cargo plane crash", "mayday",
	"runway excursion", "mid-air collision", "near miss", "laser strike on aircraft",
	"drone near airport", "airport closure", "airport attack", "airliner diverted",
	"ship sinking", "ferry capsized", "ferry disaster", "oil tanker attacked",
	"cargo ship attacked", "missile hit vessel", "sea mine", "naval blockade",
	"territorial waters", "coast guard intercepted", "pirates boarded",
	"crew kidnapped", "strait closure",

	// Health and disaster, continued
	"disease outbreak", "measles outbreak", "polio case", "avian influenza",
	"h5n1", "mers", "lassa fever", "marburg virus", "dengue outbreak",
	"yellow fever", "meningitis outbreak", "mass casualty incident",
	"hospital overwhelmed", "quarantine imposed", "public health emergency",
	"heatwave deaths", "cold snap deaths", "avalanche", "sinkhole",
	"mudslide", "severe storm", "tornado", "hailstorm damage", "monsoon flooding",
	"dam overflow", "levee breach", "crop failure", "locust swarm",
	"food insecurity", "humanitarian crisis", "humanitarian corridor",

	// CBRN, continued
	"mustard gas", "vx agent", "novichok", "ricin", "botulinum",
	"smallpox", "radioactive material", "cesium", "cobalt-60",
	"uranium enrichment", "plutonium", "centrifuges", "nuclear warhead",
	"tactical nuclear", "icbm", "intercontinental ballistic",
	"missile launch", "rocket launch failure", "chemical attack",
	"gas attack", "nerve gas", "decontamination",

	// Political instability, continued
	"impeachment crisis", "government collapse", "cabinet dissolved",
	"parliament stormed", "embassy attack", "embassy evacuation",
	"consulate closed", "diplomatic expulsion", "sanctions imposed",
	"asset freeze", "wanted by interpol", "extradition", "war crimes tribunal",
	"icc warrant", "mass arrests", "political prisoner", "dissident detained",
	"journalist detained", "journalist killed", "press crackdown",
	"internet shutdown", "communications blackout", "forced conscription",
	"child soldiers", "mass exodus", "internally displaced",
	"asylum seekers stranded", "border troops massed", "national guard deployed",
	"emergency powers", "constitution suspended",
}

// coocRule pairs an ambiguous trigger with a qualifier; both tokens must
// appear within the sliding window, in either order.
type coocRule struct {
	A string
	B string
}

// Rule returns the stable rule identifier persisted with the match.
func (r coocRule) Rule() string { return r.A + "+" + r.B }

// defaultCoocRules covers nouns too ambiguous for the base list.
var defaultCoocRules = []coocRule{
	{"attack", "killed"},
	{"attack", "injured"},
	{"attack", "wounded"},
	{"attack", "claimed"},
	{"violence", "erupted"},
	{"protest", "violent"},
	{"protest", "police"},
	{"strike", "military"},
	{"fire", "arson"},
	{"threat", "security"},
	{"alert", "security"},
	{"casualties", "reported"},
	{"dead", "attack"},
	{"soldiers", "killed"},
	{"civilians", "killed"},
	{"police", "killed"},
	{"hostages", "released"},
	{"militants", "captured"},
	{"troops", "deployed"},
	{"weapons", "seized"},
}
